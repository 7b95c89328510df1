package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/clsa/birch/internal/app"
	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/events"
	"github.com/clsa/birch/internal/importer"
	"github.com/clsa/birch/internal/model"
	"github.com/clsa/birch/internal/record"
	"github.com/spf13/cobra"
)

// withApp wraps a command body with connect and close.
func withApp(run func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the tables and columns of the connected database",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
		sess, err := a.Session()
		if err != nil {
			return err
		}
		catalog := sess.Catalog()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, table := range catalog.Tables() {
			fmt.Fprintf(w, "%s\n", table)
			names, err := catalog.ColumnNames(table)
			if err != nil {
				return err
			}
			for _, name := range names {
				col, err := catalog.Column(table, name)
				if err != nil {
					return err
				}
				var flags []string
				if col.Nullable {
					flags = append(flags, "null")
				}
				if fk, _ := catalog.IsColumnForeignKey(table, name); fk {
					flags = append(flags, "fk")
				}
				if col.Default.IsValid() {
					flags = append(flags, "default="+col.Default.String())
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\n", col.Name, col.Type, strings.Join(flags, ","))
			}
		}
		return w.Flush()
	}),
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage rater accounts",
}

func init() {
	usersCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List users",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				sess, err := a.Session()
				if err != nil {
					return err
				}
				users, err := model.All[*model.User](cmd.Context(), sess)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTUDY\tMUST CHANGE PASSWORD")
				for _, u := range users {
					study := "-"
					if s, err := u.Study(cmd.Context()); err != nil {
						return err
					} else if s != nil {
						study = s.UID()
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", u.ID(), u.Name(), study, u.MustChangePassword())
				}
				return w.Flush()
			}),
		},
		&cobra.Command{
			Use:   "add <name>",
			Short: "Add a user with the default password",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				sess, err := a.Session()
				if err != nil {
					return err
				}
				if _, found, err := model.LoadUserByName(cmd.Context(), sess, args[0]); err != nil {
					return err
				} else if found {
					return fmt.Errorf("user %q already exists", args[0])
				}
				u := model.NewUser(sess)
				if err := u.Set("name", args[0]); err != nil {
					return err
				}
				if err := u.ResetPassword(); err != nil {
					return err
				}
				if err := u.Save(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added user %s (id %d)\n", u.Name(), u.ID())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset-password <name>",
			Short: "Reset a user's password to the default",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				u, err := loadUser(cmd, a, args[0])
				if err != nil {
					return err
				}
				if err := u.ResetPassword(); err != nil {
					return err
				}
				return u.Save(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a user",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				if err := a.RemoveUser(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed user %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "check <name> <password>",
			Short: "Check a user's password",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				u, err := a.Authenticate(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				msg := "password ok"
				if u.MustChangePassword() {
					msg += ", must be changed"
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			}),
		},
	)
}

func loadUser(cmd *cobra.Command, a *app.Application, name string) (*model.User, error) {
	sess, err := a.Session()
	if err != nil {
		return nil, err
	}
	u, found, err := model.LoadUserByName(cmd.Context(), sess, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", app.ErrUnknownUser, name)
	}
	return u, nil
}

func loadStudy(cmd *cobra.Command, a *app.Application, uid string) (*model.Study, error) {
	sess, err := a.Session()
	if err != nil {
		return nil, err
	}
	s, found, err := model.LoadStudyByUID(cmd.Context(), sess, uid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("unknown study %q", uid)
	}
	return s, nil
}

var studiesCmd = &cobra.Command{
	Use:   "studies",
	Short: "Walk studies",
}

func init() {
	step := func(use, short string, next func(*model.Study, context.Context) (*model.Study, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <uid>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				s, err := loadStudy(cmd, a, args[0])
				if err != nil {
					return err
				}
				other, err := next(s, cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), other.UID())
				return nil
			}),
		}
	}

	studiesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List study uids with their image counts",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				sess, err := a.Session()
				if err != nil {
					return err
				}
				studies, err := model.All[*model.Study](cmd.Context(), sess)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "UID\tSITE\tIMAGES")
				for _, s := range studies {
					n, err := s.Count(cmd.Context(), string(model.KindImage))
					if err != nil {
						return err
					}
					site, _ := s.Get("site")
					fmt.Fprintf(w, "%s\t%s\t%d\n", s.UID(), site, n)
				}
				return w.Flush()
			}),
		},
		step("next", "Print the uid after the given one, wrapping to the first", (*model.Study).Next),
		step("previous", "Print the uid before the given one, wrapping to the last", (*model.Study).Previous),
		&cobra.Command{
			Use:   "rated <uid> <user>",
			Short: "Report whether a user rated every image of a study",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
				s, err := loadStudy(cmd, a, args[0])
				if err != nil {
					return err
				}
				u, err := loadUser(cmd, a, args[1])
				if err != nil {
					return err
				}
				rated, err := s.IsRatedBy(cmd.Context(), u)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rated)
				return nil
			}),
		},
	)
}

var rateCmd = &cobra.Command{
	Use:   "rate <user> <image id> <value>",
	Short: "Store a user's rating of an image",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
		u, err := loadUser(cmd, a, args[0])
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid image id: %w", err)
		}
		score, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rating: %w", err)
		}

		sess, err := a.Session()
		if err != nil {
			return err
		}
		image := model.NewImage(sess)
		found, err := image.LoadBy(cmd.Context(), record.PrimaryKey, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("unknown image %d", id)
		}

		if err := a.SetActiveUser(cmd.Context(), u); err != nil {
			return err
		}
		if err := a.SetActiveImage(cmd.Context(), image); err != nil {
			return err
		}
		if _, err := model.Rate(cmd.Context(), u, image, score); err != nil {
			return err
		}

		path, err := a.ImagePath(cmd.Context(), image)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s rated %s: %d\n", u.Name(), path, score)
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Create or update studies and images from a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
		manifest, err := importer.ReadManifest(args[0])
		if err != nil {
			return err
		}
		sess, err := a.Session()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		im := importer.New(sess, a.Config().Import, nil)
		im.OnProgress(func(done, total int) {
			if done%100 == 0 || done == total {
				fmt.Fprintf(out, "%d/%d studies\n", done, total)
			}
		})
		res, err := im.Run(cmd.Context(), manifest)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %d, updated %d studies; created %d images\n",
			res.StudiesCreated, res.StudiesUpdated, res.ImagesCreated)
		return nil
	}),
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the record change feed",
}

func init() {
	var batch int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print queued record changes as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if cfg.Events.QueueType != "kafka" {
				return errors.New("events tail needs events.queue_type kafka")
			}
			queue, err := events.NewQueue(cfg.Events, logger)
			if err != nil {
				return err
			}
			defer queue.Close()

			return tailChanges(cmd.Context(), queue, batch, cmd.OutOrStdout())
		},
	}
	tail.Flags().IntVar(&batch, "batch", 100, "changes read per poll")
	eventsCmd.AddCommand(tail)
}

// tailChanges writes every dequeued change to w as one JSON object per
// line until ctx is done.
func tailChanges(ctx context.Context, queue core.ChangeQueue, batch int, w io.Writer) error {
	enc := json.NewEncoder(w)
	for ctx.Err() == nil {
		changes, err := queue.Dequeue(ctx, batch)
		if err != nil && ctx.Err() == nil {
			return err
		}
		for _, c := range changes {
			if err := enc.Encode(c); err != nil {
				return err
			}
		}
	}
	return nil
}
