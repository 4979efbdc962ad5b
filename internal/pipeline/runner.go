// Package pipeline orchestrates the export, convert and upload phases
// over the page set, with crash-resumable state and per-page failure
// isolation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/confmove/confmove/internal/confluence"
	"github.com/confmove/confmove/internal/converter"
	"github.com/confmove/confmove/internal/metrics"
	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/paths"
	"github.com/confmove/confmove/internal/state"
)

// Source supplies pages, attachments and comments. *confluence.Client
// satisfies it.
type Source interface {
	Spaces(ctx context.Context) ([]confluence.Space, error)
	SpaceByKey(ctx context.Context, key string) (*confluence.Space, error)
	SpaceByID(ctx context.Context, id string) (*confluence.Space, error)
	SpacePages(ctx context.Context, spaceID string) ([]confluence.Page, error)
	PageByID(ctx context.Context, id string) (*confluence.Page, error)
	PageComments(ctx context.Context, pageID string) ([]models.Comment, error)
	PageAttachments(ctx context.Context, pageID string) ([]models.Attachment, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// Sink accepts directories and files at relative remote paths.
// *nextcloud.Client satisfies it.
type Sink interface {
	MkdirAll(ctx context.Context, remotePath string) error
	Upload(ctx context.Context, remotePath string, data []byte) error
}

// DefaultTargetParent is the remote directory pages land under when no
// --target-parent is given.
const DefaultTargetParent = "MigratedPages"

// Options selects the page scope and controls side effects.
type Options struct {
	// Scope: exactly one of SpaceKey, PageIDs, AllSpaces.
	SpaceKey  string
	PageIDs   []string
	AllSpaces bool

	ExportDir    string
	ConvertDir   string
	TargetParent string

	// DryRun runs all transformation logic but writes nothing: no
	// export files, no converted output, no uploads, no state file.
	DryRun bool
	// Force re-runs pages whose status already satisfies the phase.
	Force bool
}

// Runner drives the three phases. Processing is strictly sequential;
// a page failure is recorded on its record and never aborts the run.
type Runner struct {
	state  *state.State
	conv   *converter.Converter
	source Source
	sink   Sink
	opts   Options
	logger *slog.Logger
	stats  *metrics.Collector

	// exports caches payloads from this invocation so a dry run, which
	// writes no export files, can still convert.
	exports map[string]*models.PageExport
}

func New(st *state.State, conv *converter.Converter, source Source, sink Sink, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TargetParent == "" {
		opts.TargetParent = DefaultTargetParent
	}
	if opts.DryRun {
		st.SetPersist(false)
	}
	return &Runner{
		state:   st,
		conv:    conv,
		source:  source,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		stats:   metrics.NewCollector(),
		exports: make(map[string]*models.PageExport),
	}
}

// exportItem is one page resolved into scope, with the space key and
// homepage flag the record needs.
type exportItem struct {
	page        confluence.Page
	spaceKey    string
	homepage    bool
	hasChildren bool
}

// resolveScope expands the configured scope into the ordered page list.
// Errors here happen before any page is processed and fail the whole
// invocation.
func (r *Runner) resolveScope(ctx context.Context) ([]exportItem, error) {
	var items []exportItem

	addSpace := func(sp *confluence.Space) error {
		pages, err := r.source.SpacePages(ctx, sp.ID)
		if err != nil {
			return fmt.Errorf("list pages in space %s: %w", sp.Key, err)
		}
		for _, pg := range pages {
			items = append(items, exportItem{
				page:     pg,
				spaceKey: sp.Key,
				homepage: sp.HomepageID != "" && pg.ID == sp.HomepageID,
			})
		}
		return nil
	}

	switch {
	case r.opts.AllSpaces:
		spaces, err := r.source.Spaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("list spaces: %w", err)
		}
		for i := range spaces {
			if err := addSpace(&spaces[i]); err != nil {
				return nil, err
			}
		}

	case len(r.opts.PageIDs) > 0:
		spaceKeys := map[string]*confluence.Space{}
		for _, id := range r.opts.PageIDs {
			pg, err := r.source.PageByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("fetch page %s: %w", id, err)
			}
			sp := spaceKeys[pg.SpaceID]
			if sp == nil {
				sp, err = r.source.SpaceByID(ctx, pg.SpaceID)
				if err != nil {
					return nil, fmt.Errorf("resolve space for page %s: %w", id, err)
				}
				spaceKeys[pg.SpaceID] = sp
			}
			items = append(items, exportItem{
				page:     *pg,
				spaceKey: sp.Key,
				homepage: sp.HomepageID != "" && pg.ID == sp.HomepageID,
			})
		}

	case r.opts.SpaceKey != "":
		sp, err := r.source.SpaceByKey(ctx, r.opts.SpaceKey)
		if err != nil {
			return nil, err
		}
		if err := addSpace(sp); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("no scope: provide a space key, page IDs, or all spaces")
	}

	// Parenthood within scope decides which pages become directories.
	parents := make(map[string]bool, len(items))
	for _, it := range items {
		if it.page.ParentID != "" {
			parents[it.page.ParentID] = true
		}
	}
	for i := range items {
		items[i].hasChildren = parents[items[i].page.ID]
	}
	return items, nil
}

// Export fetches every page in scope and writes its body, comments,
// attachment metadata and attachment binaries under the export
// directory.
func (r *Runner) Export(ctx context.Context) error {
	items, err := r.resolveScope(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("export phase starting", "pages", len(items), "dry_run", r.opts.DryRun)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec := r.state.Get(item.page.ID)
		if rec != nil && rec.Status.AtLeast(models.StatusExported) && !r.opts.Force {
			r.logger.Debug("already exported, skipping", "page_id", rec.ID, "title", rec.Title)
			continue
		}

		if rec == nil {
			rec = models.NewPageRecord(item.page.ID, item.page.Title, item.spaceKey, item.page.ParentID, item.hasChildren)
		} else {
			rec.Title = item.page.Title
			rec.SpaceKey = item.spaceKey
			rec.ParentID = item.page.ParentID
			rec.HasChildren = item.hasChildren
		}
		rec.Homepage = item.homepage

		started := time.Now()
		r.exportPage(ctx, item, rec)
		r.stats.RecordTiming(metrics.OpExport, time.Since(started))
		if err := r.state.Set(rec); err != nil {
			return err
		}
	}

	r.logger.Info("export phase done", "summary", summaryAttr(r.state.Summary()))
	return nil
}

// exportPage does the work for a single page. Failures are recorded on
// the record, never returned.
func (r *Runner) exportPage(ctx context.Context, item exportItem, rec *models.PageRecord) {
	comments, err := r.source.PageComments(ctx, rec.ID)
	if err != nil {
		r.logger.Error("fetching comments failed", "page_id", rec.ID, "error", err)
		rec.Fail(fmt.Errorf("fetch comments: %w", err))
		return
	}

	attachments, err := r.source.PageAttachments(ctx, rec.ID)
	if err != nil {
		r.logger.Error("fetching attachments failed", "page_id", rec.ID, "error", err)
		rec.Fail(fmt.Errorf("fetch attachments: %w", err))
		return
	}

	attDir := filepath.Join(r.opts.ExportDir, rec.SpaceKey, "attachments", rec.ID)
	for i := range attachments {
		att := &attachments[i]
		if r.opts.DryRun {
			continue
		}
		started := time.Now()
		data, err := r.source.Download(ctx, att.DownloadURL)
		if err == nil {
			r.stats.RecordTransfer(metrics.OpDownload, time.Since(started), int64(len(data)))
		}
		if err != nil {
			// A broken attachment degrades the page, it does not fail it.
			r.logger.Warn("attachment download failed", "page_id", rec.ID, "file", att.Filename, "error", err)
			att.Error = err.Error()
			continue
		}
		if err := os.MkdirAll(attDir, 0755); err != nil {
			rec.Fail(fmt.Errorf("create attachment dir: %w", err))
			return
		}
		local := filepath.Join(attDir, att.Filename)
		if err := os.WriteFile(local, data, 0644); err != nil {
			rec.Fail(fmt.Errorf("write attachment %s: %w", att.Filename, err))
			return
		}
		att.LocalPath = local
	}

	export := models.PageExport{
		ID:          rec.ID,
		Title:       rec.Title,
		SpaceKey:    rec.SpaceKey,
		ParentID:    rec.ParentID,
		Homepage:    rec.Homepage,
		HasChildren: rec.HasChildren,
		BodyHTML:    item.page.BodyHTML,
		Attachments: attachments,
		Comments:    comments,
	}

	exportPath := filepath.Join(r.opts.ExportDir, rec.SpaceKey, "pages", rec.ID+".json")
	if !r.opts.DryRun {
		if err := os.MkdirAll(filepath.Dir(exportPath), 0755); err != nil {
			rec.Fail(fmt.Errorf("create export dir: %w", err))
			return
		}
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			rec.Fail(fmt.Errorf("encode export: %w", err))
			return
		}
		if err := os.WriteFile(exportPath, data, 0644); err != nil {
			rec.Fail(fmt.Errorf("write export: %w", err))
			return
		}
	}

	r.exports[rec.ID] = &export

	rec.Status = models.StatusExported
	rec.ExportPath = exportPath
	rec.Attachments = attachments
	rec.Comments = comments
	rec.Error = ""
	r.logger.Info("exported", "page_id", rec.ID, "title", rec.Title, "attachments", len(attachments))
}

// Convert renders every exported page to Markdown under the convert
// directory and places attachment files next to the output.
func (r *Runner) Convert(ctx context.Context) error {
	groups := r.groupedRecords()
	if len(groups) == 0 {
		r.logger.Warn("nothing to convert, run export first")
		return nil
	}
	r.logger.Info("convert phase starting", "spaces", len(groups), "dry_run", r.opts.DryRun)

	for _, group := range groups {
		// The collision tie-break is insertion order, so the tree is
		// stable across resumed runs.
		tree := paths.BuildTree(group.records)

		for _, rec := range group.records {
			if err := ctx.Err(); err != nil {
				return err
			}

			if rec.Status.AtLeast(models.StatusConverted) && !r.opts.Force {
				r.logger.Debug("already converted, skipping", "page_id", rec.ID)
				continue
			}
			// Failed records keep their export file and are retried.
			if !rec.Status.AtLeast(models.StatusExported) && rec.ExportPath == "" {
				r.logger.Warn("not exported, skipping", "page_id", rec.ID, "status", rec.Status)
				continue
			}

			started := time.Now()
			r.convertPage(rec, group.key, tree)
			r.stats.RecordTiming(metrics.OpConvert, time.Since(started))
			if err := r.state.Set(rec); err != nil {
				return err
			}
		}
	}

	r.logger.Info("convert phase done", "summary", summaryAttr(r.state.Summary()))
	return nil
}

func (r *Runner) convertPage(rec *models.PageRecord, spaceKey string, tree map[string]paths.OutputPath) {
	export, err := r.readExport(rec)
	if err != nil {
		r.logger.Error("reading export failed", "page_id", rec.ID, "error", err)
		rec.Fail(err)
		return
	}

	self := tree[rec.ID]
	result, err := r.conv.ConvertPage(export, self, tree)
	if err != nil {
		// No partial file exists: rendering happens fully in memory and
		// nothing is written on failure.
		r.logger.Error("conversion failed", "page_id", rec.ID, "title", rec.Title, "error", err)
		rec.Fail(fmt.Errorf("convert: %w", err))
		return
	}

	dest := filepath.Join(r.opts.ConvertDir, spaceKey, filepath.FromSlash(self.File))
	if !r.opts.DryRun {
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			rec.Fail(fmt.Errorf("create output dir: %w", err))
			return
		}
		if err := os.WriteFile(dest, []byte(result.Markdown), 0644); err != nil {
			rec.Fail(fmt.Errorf("write markdown: %w", err))
			return
		}
	}

	// Attachment files sit in the same directory as the document.
	for _, file := range result.Files {
		if file.LocalPath == "" {
			continue
		}
		target := filepath.Join(filepath.Dir(dest), file.Filename)
		if !r.opts.DryRun {
			if err := copyFile(file.LocalPath, target); err != nil {
				r.logger.Warn("copying attachment failed", "page_id", rec.ID, "file", file.Filename, "error", err)
				r.setAttachmentError(rec, file.Filename, err)
				continue
			}
		}
		r.setAttachmentPath(rec, file.Filename, target)
	}

	rec.Status = models.StatusConverted
	rec.ConvertPath = dest
	rec.Error = ""
	r.logger.Info("converted", "page_id", rec.ID, "title", rec.Title, "output", dest)
}

// Upload pushes converted markdown and sibling attachment files to the
// sink under the target parent directory.
func (r *Runner) Upload(ctx context.Context) error {
	groups := r.groupedRecords()
	if len(groups) == 0 {
		r.logger.Warn("nothing to upload, run convert first")
		return nil
	}
	// A single-space run lands directly under the target parent; with
	// several spaces each space gets its own subdirectory.
	multiSpace := len(groups) > 1
	r.logger.Info("upload phase starting", "spaces", len(groups), "target_parent", r.opts.TargetParent, "dry_run", r.opts.DryRun)

	for _, group := range groups {
		for _, rec := range group.records {
			if err := ctx.Err(); err != nil {
				return err
			}

			if rec.Status.AtLeast(models.StatusUploaded) && !r.opts.Force {
				r.logger.Debug("already uploaded, skipping", "page_id", rec.ID)
				continue
			}
			if !rec.Status.AtLeast(models.StatusConverted) && rec.ConvertPath == "" {
				r.logger.Warn("not converted, skipping", "page_id", rec.ID, "status", rec.Status)
				continue
			}

			r.uploadPage(ctx, rec, group.key, multiSpace)
			if err := r.state.Set(rec); err != nil {
				return err
			}
		}
	}

	r.logger.Info("upload phase done", "summary", summaryAttr(r.state.Summary()))
	return nil
}

func (r *Runner) uploadPage(ctx context.Context, rec *models.PageRecord, spaceKey string, multiSpace bool) {
	localRoot := filepath.Join(r.opts.ConvertDir, spaceKey)
	rel, err := filepath.Rel(localRoot, rec.ConvertPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rec.Fail(fmt.Errorf("converted file %s is outside %s", rec.ConvertPath, localRoot))
		return
	}
	rel = filepath.ToSlash(rel)

	remote := path.Join(r.opts.TargetParent, rel)
	if multiSpace {
		remote = path.Join(r.opts.TargetParent, spaceKey, rel)
	}

	if r.opts.DryRun {
		r.logger.Info("would upload", "page_id", rec.ID, "remote", remote)
		rec.Status = models.StatusUploaded
		rec.UploadPath = remote
		rec.Error = ""
		return
	}

	data, err := os.ReadFile(rec.ConvertPath)
	if err != nil {
		rec.Fail(fmt.Errorf("read converted file: %w", err))
		return
	}

	if dir := path.Dir(remote); dir != "." {
		if err := r.sink.MkdirAll(ctx, dir); err != nil {
			rec.Fail(fmt.Errorf("create remote dir %s: %w", dir, err))
			return
		}
	}
	started := time.Now()
	if err := r.sink.Upload(ctx, remote, data); err != nil {
		rec.Fail(fmt.Errorf("upload %s: %w", remote, err))
		return
	}
	r.stats.RecordTransfer(metrics.OpUpload, time.Since(started), int64(len(data)))

	remoteDir := path.Dir(remote)
	for _, att := range rec.Attachments {
		if att.LocalPath == "" || att.Error != "" {
			continue
		}
		// Only files placed next to the markdown during convert.
		if filepath.Dir(att.LocalPath) != filepath.Dir(rec.ConvertPath) {
			continue
		}
		content, err := os.ReadFile(att.LocalPath)
		if err != nil {
			r.logger.Warn("reading attachment failed", "page_id", rec.ID, "file", att.Filename, "error", err)
			continue
		}
		started := time.Now()
		if err := r.sink.Upload(ctx, path.Join(remoteDir, att.Filename), content); err != nil {
			rec.Fail(fmt.Errorf("upload attachment %s: %w", att.Filename, err))
			return
		}
		r.stats.RecordTransfer(metrics.OpUpload, time.Since(started), int64(len(content)))
	}

	rec.Status = models.StatusUploaded
	rec.UploadPath = remote
	rec.Error = ""
	r.logger.Info("uploaded", "page_id", rec.ID, "title", rec.Title, "remote", remote)
}

// Migrate runs all three phases in order. Phase errors (scope
// resolution, cancellation, state writes) abort; per-page failures do
// not.
func (r *Runner) Migrate(ctx context.Context) error {
	if err := r.Export(ctx); err != nil {
		return err
	}
	if err := r.Convert(ctx); err != nil {
		return err
	}
	return r.Upload(ctx)
}

type recordGroup struct {
	key     string
	records []*models.PageRecord
}

// groupedRecords splits the state by space, preserving insertion order
// within and across groups.
func (r *Runner) groupedRecords() []recordGroup {
	var groups []recordGroup
	index := map[string]int{}
	for _, rec := range r.state.Records() {
		if r.opts.SpaceKey != "" && rec.SpaceKey != r.opts.SpaceKey {
			continue
		}
		i, ok := index[rec.SpaceKey]
		if !ok {
			i = len(groups)
			index[rec.SpaceKey] = i
			groups = append(groups, recordGroup{key: rec.SpaceKey})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}

func (r *Runner) readExport(rec *models.PageRecord) (*models.PageExport, error) {
	if export, ok := r.exports[rec.ID]; ok {
		return export, nil
	}
	data, err := os.ReadFile(rec.ExportPath)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var export models.PageExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &export, nil
}

func (r *Runner) setAttachmentPath(rec *models.PageRecord, filename, localPath string) {
	for i := range rec.Attachments {
		if rec.Attachments[i].Filename == filename {
			rec.Attachments[i].LocalPath = localPath
			return
		}
	}
}

func (r *Runner) setAttachmentError(rec *models.PageRecord, filename string, err error) {
	for i := range rec.Attachments {
		if rec.Attachments[i].Filename == filename {
			rec.Attachments[i].Error = err.Error()
			return
		}
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func summaryAttr(counts map[models.Status]int) slog.Value {
	order := []models.Status{
		models.StatusPending, models.StatusExported,
		models.StatusConverted, models.StatusUploaded, models.StatusFailed,
	}
	var attrs []slog.Attr
	for _, st := range order {
		if n := counts[st]; n > 0 {
			attrs = append(attrs, slog.Int(string(st), n))
		}
	}
	return slog.GroupValue(attrs...)
}
