package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/model"
	"github.com/clsa/birch/internal/record"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Progress is called after each study with the number of studies done
// and the total.
type Progress func(done, total int)

// Result counts what an import changed.
type Result struct {
	StudiesCreated int
	StudiesUpdated int
	ImagesCreated  int
}

// Importer writes manifest entries through a record session, pacing
// every statement with a rate limiter.
type Importer struct {
	sess     *record.Session
	limiter  *rate.Limiter
	log      logrus.FieldLogger
	progress Progress
}

// New creates an importer. A zero write rate disables pacing.
func New(sess *record.Session, cfg config.ImportConfig, logger logrus.FieldLogger) *Importer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := rate.Inf
	if cfg.WriteRate > 0 {
		limit = rate.Limit(cfg.WriteRate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Importer{
		sess:    sess,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.WithField("component", "importer"),
	}
}

// OnProgress installs the progress callback.
func (im *Importer) OnProgress(p Progress) {
	im.progress = p
}

// Run imports every study of the manifest in order. Existing studies are
// updated by uid and gain image rows until they have as many as listed;
// images are never removed.
func (im *Importer) Run(ctx context.Context, m *Manifest) (Result, error) {
	var res Result
	start := time.Now()
	total := len(m.Studies)

	for i, entry := range m.Studies {
		created, images, err := im.importStudy(ctx, entry)
		if err != nil {
			return res, fmt.Errorf("failed to import study %q: %w", entry.UID, err)
		}
		if created {
			res.StudiesCreated++
		} else {
			res.StudiesUpdated++
		}
		res.ImagesCreated += images

		if im.progress != nil {
			im.progress(i+1, total)
		}
	}

	im.log.WithFields(logrus.Fields{
		"created":  res.StudiesCreated,
		"updated":  res.StudiesUpdated,
		"images":   res.ImagesCreated,
		"duration": time.Since(start),
	}).Info("import finished")
	return res, nil
}

func (im *Importer) importStudy(ctx context.Context, entry StudyEntry) (bool, int, error) {
	if err := im.limiter.Wait(ctx); err != nil {
		return false, 0, err
	}
	study := model.NewStudy(im.sess)
	found, err := study.LoadBy(ctx, "uid", entry.UID)
	if err != nil {
		return false, 0, err
	}

	// empty manifest fields keep what an existing study has
	fields := map[string]string{
		"uid":               entry.UID,
		"site":              entry.Site,
		"interviewer":       entry.Interviewer,
		"datetime_acquired": entry.DatetimeAcquired,
	}
	for column, value := range fields {
		if value == "" {
			if found || column == "datetime_acquired" {
				continue
			}
			value = Unknown
		}
		if err := study.Set(column, value); err != nil {
			return false, 0, err
		}
	}

	if err := im.limiter.Wait(ctx); err != nil {
		return false, 0, err
	}
	if err := study.Save(ctx); err != nil {
		return false, 0, err
	}

	existing := 0
	if found {
		if err := im.limiter.Wait(ctx); err != nil {
			return false, 0, err
		}
		if existing, err = study.Count(ctx, string(model.KindImage)); err != nil {
			return false, 0, err
		}
	}

	created := 0
	for n := existing; n < entry.Images; n++ {
		if err := im.limiter.Wait(ctx); err != nil {
			return !found, created, err
		}
		image := model.NewImage(im.sess)
		if err := image.Set("study_id", study.ID()); err != nil {
			return !found, created, err
		}
		if err := image.Save(ctx); err != nil {
			return !found, created, err
		}
		created++
	}

	im.log.WithFields(logrus.Fields{
		"uid":    entry.UID,
		"new":    !found,
		"images": created,
	}).Debug("study imported")
	return !found, created, nil
}
