package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/gateway"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/storage"
)

func TestExtensionFromMime(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "image/jpeg", want: ".jpg"},
		{in: "IMAGE/PNG", want: ".png"},
		{in: "audio/ogg; codecs=opus", want: ".ogg"},
		{in: "video/mp4", want: ".mp4"},
		{in: "application/pdf", want: ".pdf"},
		{in: "application/x-unknown", want: ".bin"},
		{in: "", want: ".bin"},
	}
	for _, tc := range cases {
		if got := extensionFromMime(tc.in); got != tc.want {
			t.Fatalf("extensionFromMime(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type fakeFetcher struct {
	blob gateway.MediaBlob
	err  error
}

func (f *fakeFetcher) FetchEncodedMedia(context.Context, string, json.RawMessage) (gateway.MediaBlob, error) {
	return f.blob, f.err
}

type fakeProvider struct {
	putKey  string
	putMime string
	putErr  error
}

func (f *fakeProvider) Put(_ context.Context, key string, reader io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	_, _ = io.Copy(io.Discard, reader)
	f.putKey = key
	f.putMime = contentType
	return nil
}

func (f *fakeProvider) AccessPath(key string) string {
	return "https://cdn.example/" + key
}

var _ storage.Provider = (*fakeProvider)(nil)

func imageRef() gateway.MediaRef {
	return gateway.MediaRef{
		Kind:     gateway.AttachmentImage,
		Mime:     "image/jpeg",
		URL:      "https://gw.example/tmp/abc",
		Envelope: []byte(`{"imageMessage":{}}`),
	}
}

func TestRelocate_Success(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(nil, &fakeFetcher{blob: gateway.MediaBlob{Data: []byte("img"), Mime: "image/png"}}, provider, "media")

	relocated, ok := svc.Relocate(context.Background(), "main", imageRef())
	if !ok {
		t.Fatalf("relocation should succeed")
	}
	if !strings.HasPrefix(relocated.URL, "https://cdn.example/media/image/") {
		t.Fatalf("unexpected URL: %q", relocated.URL)
	}
	if !strings.HasSuffix(provider.putKey, ".png") {
		t.Fatalf("blob mime should win over declared mime, key %q", provider.putKey)
	}
	if relocated.Mime != "image/png" {
		t.Fatalf("unexpected mime: %q", relocated.Mime)
	}
}

func TestRelocate_FetchFailureIsNonFatal(t *testing.T) {
	svc := NewService(nil, &fakeFetcher{err: errors.New("gateway down")}, &fakeProvider{}, "media")
	if _, ok := svc.Relocate(context.Background(), "main", imageRef()); ok {
		t.Fatalf("fetch failure must report ok=false")
	}
}

func TestRelocate_UploadFailureIsNonFatal(t *testing.T) {
	provider := &fakeProvider{putErr: errors.New("bucket down")}
	svc := NewService(nil, &fakeFetcher{blob: gateway.MediaBlob{Data: []byte("x")}}, provider, "media")
	if _, ok := svc.Relocate(context.Background(), "main", imageRef()); ok {
		t.Fatalf("upload failure must report ok=false")
	}
}

func TestRelocate_NoEnvelope(t *testing.T) {
	svc := NewService(nil, &fakeFetcher{}, &fakeProvider{}, "media")
	ref := imageRef()
	ref.Envelope = nil
	if _, ok := svc.Relocate(context.Background(), "main", ref); ok {
		t.Fatalf("missing envelope cannot be fetched")
	}
}
