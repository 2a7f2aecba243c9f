package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubClient struct {
	access func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	calls  int
}

func (s *stubClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	return s.access(ctx, req)
}

func (s *stubClient) Close() error { return nil }

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func TestResolveSecretRemote(t *testing.T) {
	client := &stubClient{access: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		if req.Name != "projects/ah-test/secrets/stripe-key/versions/latest" {
			t.Fatalf("unexpected resource name %q", req.Name)
		}
		return payload("sk_test_abc"), nil
	}}

	f, err := NewFetcher(context.Background(), WithProject("ah-test"), WithClient(client))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := f.ResolveSecret(context.Background(), "secret://stripe-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "sk_test_abc" {
		t.Fatalf("expected sk_test_abc, got %q", got)
	}
}

func TestResolveSecretCaches(t *testing.T) {
	client := &stubClient{access: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		return payload("value"), nil
	}}

	f, err := NewFetcher(context.Background(), WithProject("ah-test"), WithClient(client))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.ResolveSecret(context.Background(), "secret://webhook-secret"); err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 remote call, got %d", client.calls)
	}

	f.Invalidate("secret://webhook-secret")
	if _, err := f.ResolveSecret(context.Background(), "secret://webhook-secret"); err != nil {
		t.Fatalf("ResolveSecret after invalidate returned error: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", client.calls)
	}
}

func TestResolveSecretFallbackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local secrets\nsecret://stripe-key=sk_local_123\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &stubClient{access: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		return nil, status.Error(codes.Unavailable, "unavailable")
	}}

	f, err := NewFetcher(context.Background(), WithProject("ah-test"), WithClient(client), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := f.ResolveSecret(context.Background(), "secret://stripe-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "sk_local_123" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveSecretHardError(t *testing.T) {
	client := &stubClient{access: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		return nil, status.Error(codes.NotFound, "missing secret")
	}}

	f, err := NewFetcher(context.Background(), WithProject("ah-test"), WithClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := f.ResolveSecret(context.Background(), "secret://does-not-exist"); err == nil {
		t.Fatal("expected error for not found secret")
	}
}

func TestParseReference(t *testing.T) {
	parsed, err := parseReference("secret://stripe-key?version=3&project=other-proj")
	if err != nil {
		t.Fatalf("parseReference returned error: %v", err)
	}
	if parsed.Secret != "stripe-key" || parsed.Version != "3" || parsed.ProjectOverride != "other-proj" {
		t.Fatalf("unexpected parse result: %+v", parsed)
	}

	if _, err := parseReference("vault://nope"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := parseReference(""); err == nil {
		t.Fatal("expected error for empty reference")
	}
}
