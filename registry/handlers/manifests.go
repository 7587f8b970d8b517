package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/manifest"
	"github.com/pierrelefevre/grain/registry/api/errcode"
	"github.com/pierrelefevre/grain/registry/storage"
)

// manifestDispatcher takes the request context and builds the appropriate
// handler for handling manifest requests.
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	manifestHandler := &manifestHandler{
		Context:   ctx,
		Reference: getReference(ctx),
	}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodHead:   http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodPut:    http.HandlerFunc(manifestHandler.PutManifest),
		http.MethodDelete: http.HandlerFunc(manifestHandler.DeleteManifest),
	}
}

// manifestHandler handles http operations on manifests. The reference is
// either a tag name or a "sha256:<hex>" content digest.
type manifestHandler struct {
	*Context

	Reference string
}

// GetManifest fetches the manifest stored under the reference. The digest
// header is computed from the stored bytes, so pulls by tag learn the
// content address. HEAD answers with the same headers and no body.
func (mh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("GetManifest")

	payload, err := mh.Repository.Manifests().Get(mh, mh.Reference)
	if err != nil {
		if errors.Is(err, storage.ErrManifestUnknown) {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(mh.Reference))
		} else {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	dgst := digest.FromBytes(payload)

	w.Header().Set("Content-Type", manifest.DetectMediaType(payload))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Docker-Content-Digest", dgst.String())

	if r.Method == http.MethodHead {
		return
	}

	if _, err := w.Write(payload); err != nil {
		dcontext.GetLogger(mh).Errorf("error writing manifest %s: %v", mh.Reference, err)
		return
	}

	manifestDownloads.Inc(1)
}

// PutManifest validates and stores a manifest under the reference.
func (mh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("PutManifest")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}

	if _, err := manifest.Validate(payload); err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}

	dgst, err := mh.Repository.Manifests().Put(mh, mh.Reference, payload)
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	location, err := mh.urlBuilder.BuildManifestURL(getOrg(mh), getRepo(mh), mh.Reference)
	if err != nil {
		dcontext.GetLogger(mh).Errorf("error building manifest url: %v", err)
	} else {
		w.Header().Set("Location", location)
	}

	w.Header().Set("Docker-Content-Digest", dgst.String())
	manifestUploads.Inc(1)
	w.WriteHeader(http.StatusCreated)
}

// DeleteManifest removes the manifest stored under the reference. Only
// the addressed key is removed; deleting a tag leaves the digest entry
// and vice versa.
func (mh *manifestHandler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("DeleteManifest")

	if err := mh.Repository.Manifests().Delete(mh, mh.Reference); err != nil {
		if errors.Is(err, storage.ErrManifestUnknown) {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(mh.Reference))
		} else {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
