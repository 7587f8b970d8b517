package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/api/errcode"
	"github.com/pierrelefevre/grain/registry/auth"
	"github.com/pierrelefevre/grain/registry/storage"
)

// blobUploadDispatcher constructs and returns the blob upload handler for
// the given request context.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	buh := &blobUploadHandler{
		Context: ctx,
		UUID:    getUploadUUID(ctx),
	}

	return handlers.MethodHandler{
		http.MethodPost:  http.HandlerFunc(buh.StartBlobUpload),
		http.MethodPatch: http.HandlerFunc(buh.PatchBlobData),
		http.MethodPut:   http.HandlerFunc(buh.PutBlobUploadComplete),
	}
}

// blobUploadHandler handles the http blob upload process.
type blobUploadHandler struct {
	*Context

	// UUID identifies the upload instance for the current request. Using
	// this, the upload state can be addressed across requests.
	UUID string
}

// StartBlobUpload begins the blob upload process. Three forms exist, in
// order of precedence: a cross-repository mount, a monolithic upload
// completed within this single request, and a new resumable session.
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	fromRepo := r.FormValue("from")
	mountDigest := r.FormValue("mount")

	if mountDigest != "" && fromRepo != "" {
		if buh.mountBlob(w, mountDigest, fromRepo) {
			return
		}
		// A declined mount degrades to a regular session so the client
		// can upload the content itself.
	} else if dgstStr := r.FormValue("digest"); dgstStr != "" {
		buh.writeBlobMonolithic(w, r, dgstStr)
		return
	}

	buh.createBlobUpload(w, r)
}

// mountBlob links a blob already stored under another repository into
// this one, skipping the transfer. The source must grant the user pull.
// Every failure reports false without writing a response; the caller
// falls back to opening an upload session.
func (buh *blobUploadHandler) mountBlob(w http.ResponseWriter, dgstStr, fromRepo string) bool {
	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		dcontext.GetLogger(buh).Infof("declining mount from %q: %v", fromRepo, err)
		return false
	}

	fromOrg, fromName, ok := strings.Cut(fromRepo, "/")
	if !ok || fromOrg == "" || fromName == "" || strings.Contains(fromName, "/") {
		dcontext.GetLogger(buh).Infof("declining mount of %s: invalid source %q", dgst, fromRepo)
		return false
	}

	if buh.accessController != nil {
		if _, err := buh.accessController.Authorized(buh, auth.Resource{Type: "repository", Name: fromRepo}, "pull"); err != nil {
			dcontext.GetLogger(buh).Infof("declining mount of %s: no pull access to %q: %v", dgst, fromRepo, err)
			return false
		}
	}

	source := buh.registry.Repository(fromOrg, fromName)
	if err := buh.Repository.Blobs().Mount(buh, source, dgst); err != nil {
		dcontext.GetLogger(buh).Infof("declining mount of %s from %q: %v", dgst, fromRepo, err)
		return false
	}

	blobUploads.Inc(1)
	buh.writeBlobCreatedHeaders(w, dgst)
	return true
}

// writeBlobMonolithic stores the request body as a complete blob,
// verified against the digest parameter.
func (buh *blobUploadHandler) writeBlobMonolithic(w http.ResponseWriter, r *http.Request, dgstStr string) {
	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		return
	}

	p, err := io.ReadAll(r.Body)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
		return
	}

	if err := buh.Repository.Blobs().Put(buh, dgst, p); err != nil {
		if errors.Is(err, storage.ErrDigestMismatch) {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("provided digest did not match uploaded content"))
		} else {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	blobUploads.Inc(1)
	buh.writeBlobCreatedHeaders(w, dgst)
}

// createBlobUpload opens a fresh resumable session and points the client
// at its chunk URL.
func (buh *blobUploadHandler) createBlobUpload(w http.ResponseWriter, r *http.Request) {
	id, err := buh.Repository.Uploads().Create(buh)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	buh.UUID = id

	if err := buh.blobUploadResponse(w, 0); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// PatchBlobData appends the request body to the upload session.
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(fmt.Sprintf("bad Content-Type %q", ct)))
		return
	}

	p, err := io.ReadAll(r.Body)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
		return
	}

	size, err := buh.Repository.Uploads().Append(buh, buh.UUID, p)
	if err != nil {
		if errors.Is(err, storage.ErrUploadUnknown) {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		} else {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	if err := buh.blobUploadResponse(w, size); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUploadComplete takes the final request of a blob upload. The
// request may include all the blob data or no blob data. Any data
// provided is appended before the session content is verified against
// the digest parameter and promoted into the blob store.
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	dgstStr := r.FormValue("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest missing"))
		return
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest parsing failed"))
		return
	}

	p, err := io.ReadAll(r.Body)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
		return
	}

	uploads := buh.Repository.Uploads()

	if len(p) > 0 {
		if _, err := uploads.Append(buh, buh.UUID, p); err != nil {
			if errors.Is(err, storage.ErrUploadUnknown) {
				buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
			} else {
				buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
			}
			return
		}
	}

	if err := uploads.Finalize(buh, buh.UUID, dgst); err != nil {
		switch {
		case errors.Is(err, storage.ErrUploadUnknown):
			buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		case errors.Is(err, storage.ErrDigestMismatch):
			// The session is unusable after a failed verification; remove
			// it so the client starts over with a fresh POST.
			if err := uploads.Remove(buh, buh.UUID); err != nil {
				dcontext.GetLogger(buh).Errorf("error removing failed upload %s: %v", buh.UUID, err)
			}
			buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("content does not match digest"))
		default:
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	blobUploads.Inc(1)
	buh.writeBlobCreatedHeaders(w, dgst)
}

// blobUploadResponse provides a standard request for uploading blobs and
// chunk responses. This sets the correct headers but the response status
// is left to the caller.
func (buh *blobUploadHandler) blobUploadResponse(w http.ResponseWriter, size int64) error {
	uploadURL, err := buh.urlBuilder.BuildBlobUploadChunkURL(getOrg(buh), getRepo(buh), buh.UUID)
	if err != nil {
		return err
	}

	endRange := size
	if endRange > 0 {
		endRange = endRange - 1
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.Header().Set("Location", uploadURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Range", fmt.Sprintf("0-%d", endRange))

	return nil
}

// writeBlobCreatedHeaders writes the standard headers describing a newly
// created blob.
func (buh *blobUploadHandler) writeBlobCreatedHeaders(w http.ResponseWriter, dgst digest.Digest) {
	blobURL, err := buh.urlBuilder.BuildBlobURL(getOrg(buh), getRepo(buh), dgst.String())
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	w.Header().Set("Location", blobURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusCreated)
}
