package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mailmind/internal/domain"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return out
}

func TestArchiveSnapshotKeyAndPayload(t *testing.T) {
	client := &fakeS3{}
	a := NewWithClient(client, "intel-archive")

	snap := &domain.OrganizedSnapshot{
		ID: "snap-42", AccountID: "acct-1",
		GeneratedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		MessageCount: 12,
		Topics:       []domain.TopicSummary{{ID: "topic-a", Label: "series a"}},
	}
	if err := a.ArchiveSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("archive: %v", err)
	}

	body, ok := client.objects["mailmind/acct-1/snapshots/snap-42.json.gz"]
	if !ok {
		t.Fatalf("unexpected keys: %v", keys(client.objects))
	}

	var got domain.OrganizedSnapshot
	if err := json.Unmarshal(gunzip(t, body), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "snap-42" || got.MessageCount != 12 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestArchiveTreeVersionedKey(t *testing.T) {
	client := &fakeS3{}
	a := NewWithClient(client, "intel-archive")

	tree := &domain.KnowledgeTree{ID: "tree-1", AccountID: "acct-1", Version: 7}
	if err := a.ArchiveTree(context.Background(), tree); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, ok := client.objects["mailmind/acct-1/trees/v000007.json.gz"]; !ok {
		t.Errorf("unexpected keys: %v", keys(client.objects))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
