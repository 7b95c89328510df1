// Package app owns what a running viewer needs: the configuration, the
// connection and its catalog, the record session, and the active
// user/study/image selection.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/database"
	"github.com/clsa/birch/internal/events"
	"github.com/clsa/birch/internal/kvstore"
	"github.com/clsa/birch/internal/model"
	"github.com/clsa/birch/internal/record"
	"github.com/clsa/birch/internal/schema"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned when the application has no session yet.
	ErrNotConnected = errors.New("application is not connected")

	// ErrUnknownUser is returned by Authenticate for a name without a user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrBadPassword is returned by Authenticate for a wrong password.
	ErrBadPassword = errors.New("incorrect password")
)

// Application is the explicit application context. It is not safe for
// concurrent use.
type Application struct {
	cfg *config.Config
	log logrus.FieldLogger

	db        core.Database
	sess      *record.Session
	selection core.KVStore
	changes   core.ChangeQueue
	publisher *events.Publisher

	user  *model.User
	study *model.Study
	image *model.Image
}

// New creates an unconnected application.
func New(cfg *config.Config, logger logrus.FieldLogger) *Application {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Application{
		cfg: cfg,
		log: logger.WithField("component", "app"),
	}
}

// Config returns the application configuration.
func (a *Application) Config() *config.Config {
	return a.cfg
}

// Connect opens the database from the configuration and attaches to it.
func (a *Application) Connect(ctx context.Context) error {
	opts := a.cfg.Database.Options()
	opts.Logger = a.log
	db, err := database.Connect(ctx, opts)
	if err != nil {
		return err
	}
	if err := a.Attach(ctx, db); err != nil {
		db.Close()
		return err
	}
	return nil
}

// Attach loads the catalog of an open database, creates the session and
// sets up the optional selection store and change feed. The application
// takes ownership of db.
func (a *Application) Attach(ctx context.Context, db core.Database) error {
	catalog, err := schema.Load(ctx, db, a.log)
	if err != nil {
		return err
	}

	sess := model.NewSession(db, catalog, a.log)

	var selection core.KVStore
	if a.cfg.Selection.Type != "" {
		selection, err = kvstore.Create(ctx, a.cfg.Selection, a.log)
		if err != nil {
			return err
		}
	}

	queue, err := events.NewQueue(a.cfg.Events, a.log)
	if err != nil {
		if selection != nil {
			selection.Close()
		}
		return err
	}
	var publisher *events.Publisher
	if queue != nil {
		publisher = events.NewPublisher(queue, a.cfg.Events.Tables, a.log)
		sess.SetObserver(publisher)
	}

	a.db = db
	a.sess = sess
	a.selection = selection
	a.changes = queue
	a.publisher = publisher
	a.Reset()

	a.log.WithFields(logrus.Fields{
		"database":  db.Name(),
		"tables":    len(catalog.Tables()),
		"selection": a.cfg.Selection.Type,
		"events":    a.cfg.Events.QueueType,
	}).Info("attached")
	return nil
}

// Close releases the change feed, the selection store and the connection.
func (a *Application) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
		a.publisher = nil
		a.changes = nil
	}
	if a.selection != nil {
		errs = append(errs, a.selection.Close())
		a.selection = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	a.sess = nil
	a.Reset()
	return errors.Join(errs...)
}

// Session returns the record session.
func (a *Application) Session() (*record.Session, error) {
	if a.sess == nil {
		return nil, ErrNotConnected
	}
	return a.sess, nil
}

// Authenticate returns the user with the given name if password matches.
func (a *Application) Authenticate(ctx context.Context, name, password string) (*model.User, error) {
	sess, err := a.Session()
	if err != nil {
		return nil, err
	}
	user, found, err := model.LoadUserByName(ctx, sess, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	if !user.IsPassword(password) {
		a.log.WithField("user", name).Warn("failed login")
		return nil, ErrBadPassword
	}
	return user, nil
}

// RemoveUser deletes the user with the given name along with the image
// remembered for it. Removing the active user clears the selection.
// Ratings are left to the database's foreign key rules.
func (a *Application) RemoveUser(ctx context.Context, name string) error {
	sess, err := a.Session()
	if err != nil {
		return err
	}
	user, found, err := model.LoadUserByName(ctx, sess, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}

	id := user.ID()
	if err := user.Remove(ctx); err != nil {
		return err
	}
	if a.user != nil && a.user.ID() == id {
		a.Reset()
	}
	if a.selection != nil {
		if err := a.selection.Delete(ctx, a.selectionKeyFor(id)); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
			a.log.WithError(err).Warn("failed to forget remembered image")
		}
	}
	a.log.WithField("user", name).Info("user removed")
	return nil
}

// Reset clears the active selection.
func (a *Application) Reset() {
	a.user = nil
	a.study = nil
	a.image = nil
}

// ActiveUser returns the active user, or nil.
func (a *Application) ActiveUser() *model.User { return a.user }

// ActiveStudy returns the active study, or nil.
func (a *Application) ActiveStudy() *model.Study { return a.study }

// ActiveImage returns the active image, or nil.
func (a *Application) ActiveImage() *model.Image { return a.image }

// SetActiveUser makes user active and selects the study the user last
// worked on. A nil user clears the whole selection.
func (a *Application) SetActiveUser(ctx context.Context, user *model.User) error {
	a.Reset()
	if user == nil {
		return nil
	}
	a.user = user

	study, err := user.Study(ctx)
	if err != nil {
		return err
	}
	return a.selectStudy(ctx, study)
}

// SetActiveStudy makes study active, clears the active image and stores
// the study on the active user. The user's last image of the study is
// restored from the selection store when there is one.
func (a *Application) SetActiveStudy(ctx context.Context, study *model.Study) error {
	if a.user != nil {
		var err error
		if study != nil {
			err = a.user.Set("study_id", study.ID())
		} else {
			err = a.user.SetNull("study_id")
		}
		if err != nil {
			return err
		}
		if err := a.user.Save(ctx); err != nil {
			return err
		}
	}
	return a.selectStudy(ctx, study)
}

func (a *Application) selectStudy(ctx context.Context, study *model.Study) error {
	a.study = study
	a.image = nil
	if study == nil {
		return nil
	}

	image, err := a.rememberedImage(ctx)
	if err != nil {
		return err
	}
	if image == nil {
		return nil
	}
	studyID, err := image.Get("study_id")
	if err != nil {
		return err
	}
	if studyID.Int() == study.ID() {
		a.image = image
	}
	return nil
}

// SetActiveImage makes image active and remembers it for the active user.
func (a *Application) SetActiveImage(ctx context.Context, image *model.Image) error {
	a.image = image
	if image == nil || a.user == nil || a.selection == nil {
		return nil
	}
	if err := image.AssertPrimaryID(); err != nil {
		return err
	}
	value := []byte(strconv.FormatInt(image.ID(), 10))
	if err := a.selection.Set(ctx, a.selectionKey(), value, a.cfg.Selection.TTL); err != nil {
		// the selection is best effort
		a.log.WithError(err).Warn("failed to remember active image")
	}
	return nil
}

// ImagePath returns the file of image below the configured image data
// directory.
func (a *Application) ImagePath(ctx context.Context, image *model.Image) (string, error) {
	return image.FileName(ctx, a.cfg.Paths.ImageData)
}

func (a *Application) selectionKey() string {
	return a.selectionKeyFor(a.user.ID())
}

func (a *Application) selectionKeyFor(userID int64) string {
	prefix := a.cfg.Selection.Prefix
	if prefix == "" {
		prefix = "birch:selection"
	}
	return prefix + ":" + strconv.FormatInt(userID, 10)
}

// rememberedImage loads the image remembered for the active user, or nil.
func (a *Application) rememberedImage(ctx context.Context) (*model.Image, error) {
	if a.user == nil || a.selection == nil || a.user.IsNew() {
		return nil, nil
	}

	data, err := a.selection.Get(ctx, a.selectionKey())
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		a.log.WithError(err).Warn("failed to read remembered image")
		return nil, nil
	}
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		a.log.WithField("value", string(data)).Warn("ignoring malformed remembered image")
		return nil, nil
	}

	image := model.NewImage(a.sess)
	found, err := image.LoadBy(ctx, record.PrimaryKey, id)
	if err != nil || !found {
		return nil, err
	}
	return image, nil
}
