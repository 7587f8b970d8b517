package storage

import (
	"bytes"
	"testing"

	"github.com/opencontainers/go-digest"
)

var testManifest = []byte(`{
	"schemaVersion": 2,
	"mediaType": "application/vnd.oci.image.manifest.v1+json",
	"config": {
		"mediaType": "application/vnd.oci.image.config.v1+json",
		"digest": "sha256:b5b2b2c507a0944348e0303114d8d93aaaa081732b86451d9bce1f432a537bc7",
		"size": 7023
	},
	"layers": [
		{
			"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
			"digest": "sha256:9834876dcfb05cb167a5c24953eba58c4ac89b1adf57f28f2f9d09af107ee8f0",
			"size": 32654
		}
	]
}`)

func TestManifestPutByTag(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")
	manifests := repo.Manifests()

	dgst, err := manifests.Put(ctx, "latest", testManifest)
	if err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}
	if dgst != digest.FromBytes(testManifest) {
		t.Fatalf("unexpected manifest digest: %s", dgst)
	}

	byTag, err := manifests.Get(ctx, "latest")
	if err != nil {
		t.Fatalf("failed to get manifest by tag: %v", err)
	}
	if !bytes.Equal(byTag, testManifest) {
		t.Fatalf("manifest by tag does not match")
	}

	// A tagged manifest is also resolvable by its content digest.
	byDigest, err := manifests.Get(ctx, dgst.String())
	if err != nil {
		t.Fatalf("failed to get manifest by digest: %v", err)
	}
	if !bytes.Equal(byDigest, testManifest) {
		t.Fatalf("manifest by digest does not match")
	}
}

func TestManifestPutByDigest(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")
	manifests := repo.Manifests()

	ref := digest.FromBytes(testManifest).String()
	dgst, err := manifests.Put(ctx, ref, testManifest)
	if err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}
	if dgst.String() != ref {
		t.Fatalf("unexpected manifest digest: %s", dgst)
	}

	if _, err := manifests.Get(ctx, ref); err != nil {
		t.Fatalf("failed to get manifest by digest: %v", err)
	}

	// Digest-addressed pushes do not create tags.
	tags, err := repo.Tags().All(ctx)
	if err != nil {
		t.Fatalf("failed to list tags: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("unexpected tags after digest push: %v", tags)
	}
}

func TestManifestGetUnknown(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")

	if _, err := repo.Manifests().Get(ctx, "missing"); err != ErrManifestUnknown {
		t.Fatalf("expected ErrManifestUnknown, got %v", err)
	}
}

func TestManifestExists(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")
	manifests := repo.Manifests()

	exists, err := manifests.Exists(ctx, "latest")
	if err != nil {
		t.Fatalf("failed to check manifest: %v", err)
	}
	if exists {
		t.Fatal("manifest reported before push")
	}

	if _, err := manifests.Put(ctx, "latest", testManifest); err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}

	exists, err = manifests.Exists(ctx, "latest")
	if err != nil {
		t.Fatalf("failed to check manifest: %v", err)
	}
	if !exists {
		t.Fatal("manifest not reported after push")
	}
}

func TestManifestDeleteTagKeepsDigest(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")
	manifests := repo.Manifests()

	dgst, err := manifests.Put(ctx, "v1.0", testManifest)
	if err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}

	if err := manifests.Delete(ctx, "v1.0"); err != nil {
		t.Fatalf("failed to delete manifest tag: %v", err)
	}
	if _, err := manifests.Get(ctx, "v1.0"); err != ErrManifestUnknown {
		t.Fatalf("expected ErrManifestUnknown for deleted tag, got %v", err)
	}

	// Deleting the tag leaves the digest-addressed copy behind.
	if _, err := manifests.Get(ctx, dgst.String()); err != nil {
		t.Fatalf("digest copy missing after tag delete: %v", err)
	}
}

func TestManifestDeleteUnknown(t *testing.T) {
	ctx := testContext()
	repo := newTestRegistry(t).Repository("acme", "web")

	if err := repo.Manifests().Delete(ctx, "missing"); err != ErrManifestUnknown {
		t.Fatalf("expected ErrManifestUnknown, got %v", err)
	}
}
