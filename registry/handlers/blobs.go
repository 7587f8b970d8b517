package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/api/errcode"
	"github.com/pierrelefevre/grain/registry/storage"
)

// blobDispatcher uses the request context to build a blobHandler.
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	dgst, err := getDigest(ctx)
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err))
		})
	}

	blobHandler := &blobHandler{
		Context: ctx,
		Digest:  dgst,
	}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(blobHandler.GetBlob),
		http.MethodHead:   http.HandlerFunc(blobHandler.GetBlob),
		http.MethodDelete: http.HandlerFunc(blobHandler.DeleteBlob),
	}
}

// blobHandler serves http blob requests.
type blobHandler struct {
	*Context

	Digest digest.Digest
}

// GetBlob fetches the binary data from backend storage and returns it in
// the response. HEAD answers with the same headers and no body.
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(bh).Debug("GetBlob")

	blobs := bh.Repository.Blobs()
	size, err := blobs.Stat(bh, bh.Digest)
	if err != nil {
		if errors.Is(err, storage.ErrBlobUnknown) {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(bh.Digest))
		} else {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Docker-Content-Digest", bh.Digest.String())

	if r.Method == http.MethodHead {
		return
	}

	br, err := blobs.Open(bh, bh.Digest)
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	defer br.Close()

	if _, err := io.Copy(w, br); err != nil {
		// The status line is already written; logging is all that is left.
		dcontext.GetLogger(bh).Errorf("error streaming blob %s: %v", bh.Digest, err)
		return
	}

	blobDownloads.Inc(1)
}

// DeleteBlob removes a blob from this repository. The content stays
// reachable from other repositories it was mounted into.
func (bh *blobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(bh).Debug("DeleteBlob")

	blobs := bh.Repository.Blobs()
	if err := blobs.Delete(bh, bh.Digest); err != nil {
		if errors.Is(err, storage.ErrBlobUnknown) {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(bh.Digest))
		} else {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}
