package parts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/metrics"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Store implements the configuration part store: validate-before-commit
// submission of named distribution artifacts, byte-exact download of the last
// accepted version, and metadata listings. An invalid artifact is never
// committed, so downstream servers can never download one.
type Store struct {
	store     interfaces.PartStore
	settings  interfaces.SettingsStore
	validator interfaces.PartValidator
	mirror    interfaces.DistributionBackend // optional
	nodeName  string
	log       *slog.Logger

	ingest   io.Writer // durable append-only ingestion log
	ingestMu sync.Mutex

	mu sync.Mutex // serializes submissions
}

// NewStore creates a part store. ingestLogPath names the rotated audit log of
// submission attempts; empty disables it. mirror may be nil.
func NewStore(store interfaces.PartStore, settings interfaces.SettingsStore, validator interfaces.PartValidator, mirror interfaces.DistributionBackend, nodeName, ingestLogPath string, log *slog.Logger) *Store {
	s := &Store{
		store:     store,
		settings:  settings,
		validator: validator,
		mirror:    mirror,
		nodeName:  nodeName,
		log:       log,
	}
	if ingestLogPath != "" {
		s.ingest = &lumberjack.Logger{
			Filename:   ingestLogPath,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
		}
	}
	return s
}

// SubmitResult reports an accepted submission. Stderr carries non-fatal
// validator output verbatim.
type SubmitResult struct {
	Part     *interfaces.PartInfo `json:"part"`
	Stderr   string               `json:"stderr,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Submit validates and, on success, commits a configuration part. Validation
// runs against the proposed bytes before anything is written; on fatal
// validation failure the stored part is untouched and the validator output is
// returned wrapped in interfaces.ErrValidationFailed. The external source
// accepts only the shared parameters part.
func (s *Store) Submit(ctx context.Context, kind interfaces.SourceKind, contentIdentifier, fileName string, data []byte) (*SubmitResult, error) {
	if kind == interfaces.SourceExternal && contentIdentifier != interfaces.ContentIDSharedParameters {
		return nil, fmt.Errorf("%w: content identifier %q cannot be distributed through the external source", interfaces.ErrValidationFailed, contentIdentifier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if contentIdentifier == interfaces.ContentIDIdentifierMapping {
		if err := s.checkIdentifierMapping(data); err != nil {
			s.appendIngestLine(contentIdentifier, fileName, data, false, err.Error())
			metrics.PartSubmissions.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %v", interfaces.ErrValidationFailed, err)
		}
	}

	result, err := s.validator.Validate(ctx, contentIdentifier, data)
	if err != nil {
		return nil, fmt.Errorf("validation tooling failed for %s: %w", contentIdentifier, err)
	}
	if !result.Accepted {
		s.appendIngestLine(contentIdentifier, fileName, data, false, result.Stderr)
		metrics.PartSubmissions.WithLabelValues("rejected").Inc()
		s.log.Warn("Configuration part rejected",
			"contentIdentifier", contentIdentifier,
			"fileName", fileName,
			"stderr", result.Stderr)
		return nil, fmt.Errorf("%w: %s", interfaces.ErrValidationFailed, result.Stderr)
	}

	part := &interfaces.ConfigurationPart{
		ContentIdentifier: contentIdentifier,
		FileName:          fileName,
		Data:              data,
		Hash:              interfaces.HashArtifact(data),
		UpdatedAt:         time.Now().UTC(),
		NodeName:          s.nodeName,
	}
	if err := s.store.SavePart(part); err != nil {
		return nil, fmt.Errorf("failed to persist configuration part: %w", err)
	}

	s.appendIngestLine(contentIdentifier, fileName, data, true, result.Stderr)
	metrics.PartSubmissions.WithLabelValues("accepted").Inc()
	s.log.Info("Configuration part accepted",
		"contentIdentifier", contentIdentifier,
		"fileName", fileName,
		"hash", part.Hash.Display())

	submitResult := &SubmitResult{
		Part:   partInfo(part, time.Now().UTC()),
		Stderr: result.Stderr,
	}
	if result.Stderr != "" {
		submitResult.Warnings = append(submitResult.Warnings,
			fmt.Sprintf("validator reported warnings for %s", contentIdentifier))
	}

	// mirroring happens after the local commit, best-effort
	if s.mirror != nil {
		if err := s.mirror.Publish(ctx, "parts/"+string(part.Hash)+"_"+fileName, data); err != nil {
			s.log.Warn("Failed to mirror configuration part", "backend", s.mirror.Name(), "err", err)
			submitResult.Warnings = append(submitResult.Warnings,
				fmt.Sprintf("failed to mirror %s to %s: %v", contentIdentifier, s.mirror.Name(), err))
		}
	}

	return submitResult, nil
}

// GetPart returns the last accepted version of a part together with its
// download filename. Bytes are served exactly as persisted.
func (s *Store) GetPart(contentIdentifier string) (*interfaces.ConfigurationPart, string, error) {
	part, err := s.store.GetPart(contentIdentifier)
	if err != nil {
		return nil, "", err
	}
	return part, interfaces.PartDownloadName(part.FileName, part.UpdatedAt), nil
}

// ListParts returns metadata for the parts distributed through the given
// source kind; an empty kind lists everything.
func (s *Store) ListParts(kind interfaces.SourceKind) ([]*interfaces.PartInfo, error) {
	parts, err := s.store.ListParts()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	infos := make([]*interfaces.PartInfo, 0, len(parts))
	for _, part := range parts {
		if kind == interfaces.SourceExternal && part.ContentIdentifier != interfaces.ContentIDSharedParameters {
			continue
		}
		infos = append(infos, partInfo(part, now))
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ContentIdentifier < infos[j].ContentIdentifier
	})
	return infos, nil
}

func partInfo(part *interfaces.ConfigurationPart, now time.Time) *interfaces.PartInfo {
	return &interfaces.PartInfo{
		ContentIdentifier: part.ContentIdentifier,
		FileName:          part.FileName,
		Hash:              part.Hash,
		UpdatedAt:         part.UpdatedAt,
		Freshness:         freshness(part.UpdatedAt, now),
	}
}

// freshness renders how long ago a part was updated, for diagnostics.
func freshness(updatedAt, now time.Time) string {
	if updatedAt.IsZero() {
		return "never updated"
	}

	age := now.Sub(updatedAt)
	switch {
	case age < time.Minute:
		return "updated just now"
	case age < time.Hour:
		return fmt.Sprintf("updated %d minutes ago", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("updated %d hours ago", int(age.Hours()))
	default:
		return fmt.Sprintf("updated %d days ago", int(age.Hours()/24))
	}
}

// appendIngestLine records one submission attempt in the durable ingestion
// log, distinct from the per-submission validator stderr returned to the
// caller.
func (s *Store) appendIngestLine(contentIdentifier, fileName string, data []byte, accepted bool, detail string) {
	if s.ingest == nil {
		return
	}

	verdict := "REJECTED"
	if accepted {
		verdict = "ACCEPTED"
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	fmt.Fprintf(s.ingest, "%s %s content_identifier=%s file_name=%s hash=%s node=%s detail=%q\n",
		time.Now().UTC().Format(time.RFC3339), verdict, contentIdentifier, fileName,
		interfaces.HashArtifact(data), s.nodeName, detail)
}
