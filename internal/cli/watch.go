package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/client"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

type WatchOptions struct {
	*RootOptions
	Server string
	User   string
	Filter string
	Order  string
	ID     string
	Once   bool
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <table>",
		Short: "Print a live query as JSON lines",
		Long: `Observe a table on a running server and print every new result as one JSON
line: {"data": ..., "is_loading": ..., "error": ...}.

Example:
  storefront watch products --filter category=eq.lamps --order price.desc
  storefront watch orders --id 6f1c... --once`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if opts.Server == "" {
				opts.Server = cfg.ServerURL
			}
			if opts.User == "" {
				opts.User = cfg.UserID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, args[0], cmd.OutOrStdout(), log)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "", "server base URL (defaults to STOREFRONT_URL)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id for the session (defaults to STOREFRONT_USER)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "row filter, column=op.value")
	cmd.Flags().StringVar(&opts.Order, "order", "", "ordering, column.asc or column.desc")
	cmd.Flags().StringVar(&opts.ID, "id", "", "follow a single row by id")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit after the first settled result")
	return cmd
}

// watchLine is one printed result.
type watchLine struct {
	Data      any    `json:"data"`
	IsLoading bool   `json:"is_loading"`
	Error     string `json:"error,omitempty"`
}

type watcher func(ctx context.Context, sess *livequery.Session, q backend.Query, id string, emit func(watchLine) bool)

var watchers = map[string]watcher{}

func registerWatcher[T record.Record]() {
	var zero T
	watchers[zero.TableName()] = watchTable[T]
}

func init() {
	registerWatcher[record.Product]()
	registerWatcher[record.CartItem]()
	registerWatcher[record.WishlistItem]()
	registerWatcher[record.Order]()
	registerWatcher[record.OrderItem]()
	registerWatcher[record.SellerProfile]()
	registerWatcher[record.SearchEntry]()
	registerWatcher[record.Address]()
	registerWatcher[record.UserProfile]()
}

func runWatch(ctx context.Context, opts *WatchOptions, table string, out io.Writer, log *zap.Logger) error {
	w, ok := watchers[table]
	if !ok {
		return fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}

	q := backend.Query{Table: table}
	if opts.Filter != "" {
		col, expr, found := strings.Cut(opts.Filter, "=")
		if !found || col == "" {
			return fmt.Errorf("%w: filter must look like column=op.value", backend.ErrBadQuery)
		}
		f, err := backend.ParseFilter(col, expr)
		if err != nil {
			return err
		}
		q.Filter = f
	}
	if opts.Order != "" {
		o, err := backend.ParseOrder(opts.Order)
		if err != nil {
			return err
		}
		q.Order = o
	}

	c, err := client.New(opts.Server, log)
	if err != nil {
		return err
	}
	sess := livequery.NewSession(opts.User, c, log)

	enc := json.NewEncoder(out)
	var encErr error
	w(ctx, sess, q, opts.ID, func(l watchLine) bool {
		if encErr = enc.Encode(l); encErr != nil {
			return false
		}
		return !(opts.Once && !l.IsLoading)
	})
	return encErr
}

// watchTable prints results until ctx ends or emit returns false.
func watchTable[T record.Record](ctx context.Context, sess *livequery.Session, q backend.Query, id string, emit func(watchLine) bool) {
	if id != "" {
		d := livequery.ObserveDoc[T](ctx, sess, id)
		defer d.Close()
		for r := range d.Results() {
			if !emit(line(r.Data, r.IsLoading, r.Err)) {
				return
			}
		}
		return
	}

	c := livequery.Observe[T](ctx, sess, q)
	defer c.Close()
	for r := range c.Results() {
		if !emit(line(r.Data, r.IsLoading, r.Err)) {
			return
		}
	}
}

func line(data any, loading bool, err error) watchLine {
	l := watchLine{Data: data, IsLoading: loading}
	if err != nil {
		l.Error = err.Error()
	}
	return l
}
