package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/service"
)

// DescriptorHeader carries the JSON descriptor of a fetched partition.
const DescriptorHeader = "X-MDM-Descriptor"

// LineSeparator ends every class line of a rebuild response.
const LineSeparator = "\r\n"

func (h *Handler) target(r *http.Request) service.Target {
	return service.Target{
		Zone:      r.PathValue("zone"),
		Suffix:    r.PathValue("suffix"),
		Principal: PrincipalFromContext(r.Context()),
	}
}

// wantsRebuild reports whether a GET asks for a rebuild. "file=true" is
// the form older clients send.
func wantsRebuild(q url.Values) bool {
	return q.Get("mode") == "rebuild" || q.Get("file") == "true"
}

// handleFetch handles GET /mdm/{zone} and GET /mdm/{zone}/{suffix}.
func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	if wantsRebuild(r.URL.Query()) {
		h.handleRebuild(w, r)
		return
	}
	ctx := r.Context()
	st, err := h.snapshots.Fetch(ctx, h.target(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer st.Close()

	desc, err := json.Marshal(st.Descriptor())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set(DescriptorHeader, string(desc))
	w.Header().Add("Vary", "Accept-Encoding")

	var out io.Writer = w
	var gz *gzip.Writer
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(w)
		out = gz
	}
	w.WriteHeader(http.StatusOK)

	n, err := st.Copy(ctx, out)
	if err == nil && gz != nil {
		err = gz.Close()
	}
	if err != nil {
		// The status line is gone; only a broken connection tells the
		// client the payload is incomplete.
		h.logger.WarnContext(ctx, "fetch aborted",
			"zone", st.Descriptor().Zone,
			"suffix", st.Descriptor().Suffix,
			"bytes", n,
			"error", err)
		panic(http.ErrAbortHandler)
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// progressWriter streams one line per completed class. The status line is
// sent with the first class, so failures before it still get an envelope.
type progressWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	err     error
}

func (p *progressWriter) start() {
	if p.started {
		return
	}
	p.started = true
	p.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	p.w.Header().Set("X-Content-Type-Options", "nosniff")
	p.w.WriteHeader(http.StatusOK)
}

// ClassBuilt implements snapshot.Progress.
func (p *progressWriter) ClassBuilt(class domain.ClassName, _ domain.ManifestEntry) {
	p.start()
	if p.err != nil {
		return
	}
	if _, err := io.WriteString(p.w, string(class)+LineSeparator); err != nil {
		p.err = err
		return
	}
	if err := p.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		p.err = err
	}
}

// handleRebuild handles POST /mdm/{zone}/{suffix}/rebuild and GET with a
// rebuild mode flag.
func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := jobParams(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	pw := &progressWriter{w: w, rc: http.NewResponseController(w)}
	res, err := h.snapshots.Rebuild(ctx, service.RebuildRequest{Target: h.target(r), Job: job}, pw)
	if err != nil {
		if !pw.started {
			h.handleServiceError(w, r, err)
			return
		}
		h.logger.ErrorContext(ctx, "rebuild failed after progress was sent", "error", err)
		panic(http.ErrAbortHandler)
	}

	pw.start()
	if pw.err == nil {
		pw.err = encodeJSON(w, res.Manifest)
	}
	if pw.err != nil {
		h.logger.WarnContext(ctx, "rebuild response not delivered",
			"zone", res.Key.Zone, "suffix", res.Key.Suffix, "error", pw.err)
	}
}

// jobParams collects the job parameters of a rebuild: query parameters
// other than the mode flags, overlaid by a JSON object body.
func jobParams(r *http.Request) (map[string]any, error) {
	job := make(map[string]any)
	for k, v := range r.URL.Query() {
		if k == "mode" || k == "file" || len(v) == 0 {
			continue
		}
		job[k] = v[0]
	}
	if r.Body == nil || r.ContentLength == 0 {
		return job, nil
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		return job, nil
	}
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.ErrBadRequest.WithDetails("job parameters must be a JSON object").WithCause(err)
	}
	for k, v := range body {
		job[k] = v
	}
	return job, nil
}

// handleManifest handles GET /mdm/{zone}/{suffix}/manifest. The body is
// the stored manifest itself, not an envelope.
func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	_, m, err := h.snapshots.Manifest(r.Context(), h.target(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := encodeJSON(w, m); err != nil {
		h.logger.Error("failed to encode manifest", "error", err)
	}
}

// TierView is one tier of the plan response.
type TierView struct {
	Tier    string             `json:"tier"`
	Classes []domain.ClassName `json:"classes"`
}

// handlePlan handles GET /mdm/plan.
func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	tiers := h.snapshots.Plan().Tiers()
	out := make([]TierView, 0, len(tiers))
	for i, classes := range tiers {
		if classes == nil {
			classes = []domain.ClassName{}
		}
		out = append(out, TierView{Tier: domain.Tier(i).String(), Classes: classes})
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"tiers": out})
}
