// Package mocks provides a testify mock of the registry capability
// interface for tests that assert on call patterns.
package mocks

import (
	"context"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/mock"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
)

// MockClient is a mock implementation of registry.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Authenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) ListPackages(ctx context.Context) ([]*registry.Package, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*registry.Package), args.Error(1)
}

func (m *MockClient) ListTags(ctx context.Context, pkg *registry.Package) ([]registry.Tag, error) {
	args := m.Called(ctx, pkg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]registry.Tag), args.Error(1)
}

func (m *MockClient) GetManifest(ctx context.Context, pkg *registry.Package, reference string) (*registry.Manifest, error) {
	args := m.Called(ctx, pkg, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.Manifest), args.Error(1)
}

func (m *MockClient) GetPackageManifests(ctx context.Context, pkg *registry.Package) ([]*registry.Manifest, error) {
	args := m.Called(ctx, pkg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*registry.Manifest), args.Error(1)
}

func (m *MockClient) DeleteTag(ctx context.Context, pkg *registry.Package, tag string, batch []string) error {
	args := m.Called(ctx, pkg, tag, batch)
	return args.Error(0)
}

func (m *MockClient) DeleteManifest(ctx context.Context, pkg *registry.Package, dgst digest.Digest) error {
	args := m.Called(ctx, pkg, dgst)
	return args.Error(0)
}

func (m *MockClient) GetReferrers(ctx context.Context, pkg *registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	args := m.Called(ctx, pkg, dgst)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]registry.Referrer), args.Error(1)
}

func (m *MockClient) Supports(feature registry.Capability) bool {
	args := m.Called(feature)
	return args.Bool(0)
}

func (m *MockClient) KnownRegistryURLs() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}
