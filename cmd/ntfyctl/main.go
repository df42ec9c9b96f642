// Command ntfyctl manages ntfy push subscriptions directly in the bot's store.
//
//	ntfyctl add --topic alerts --from BTC --to LN --threshold 0.1
//	ntfyctl list [--topic alerts]
//	ntfyctl remove --id 7
//	ntfyctl remove --topic alerts
//	ntfyctl test --topic alerts --priority high
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"feebot/internal/config"
	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/platform/ntfy"
	"feebot/internal/storage"
	"feebot/internal/subscription"
	"feebot/pkg/logx"
)

const usage = `usage: ntfyctl [--config path] <command> [flags]

commands:
  add     --topic T --from A --to B --threshold N
  list    [--topic T]
  remove  --id N | --topic T
  test    --topic T [--message M] [--title T] [--priority P]
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ntfyctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("ntfyctl", flag.ContinueOnError)
	global.SetInterspersed(false)
	cfgPath := global.StringP("config", "c", "./config.yaml", "path to config file")
	verbose := global.BoolP("verbose", "v", false, "log storage activity")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfgm := config.NewConfigManager(*cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	log := logx.Nop()
	if *verbose {
		log = logx.NewConsole("debug")
	}
	if rest[0] == "test" {
		return cmdTest(ctx, cfg, log, rest[1:], out)
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	svc := subscription.NewService(store, cfg.ResolvedProURL(), log)

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "add":
		return cmdAdd(ctx, svc, cmdArgs, out)
	case "list":
		return cmdList(ctx, store, cmdArgs, out)
	case "remove", "rm":
		return cmdRemove(ctx, svc, store, cmdArgs, out)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.StorageDriver() == "memory" {
		return nil, errors.New("storage.driver is memory; nothing to manage")
	}
	return storage.Open(storage.Config{
		Driver:      cfg.StorageDriver(),
		Path:        cfg.StoragePath(),
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, log)
}

func cmdAdd(ctx context.Context, svc *subscription.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	topic := fs.String("topic", "", "ntfy topic")
	from := fs.String("from", "", "send asset")
	to := fs.String("to", "", "receive asset")
	threshold := fs.String("threshold", "", "fee threshold in percent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *topic == "" || *from == "" || *to == "" || *threshold == "" {
		return errors.New("add: --topic, --from, --to and --threshold are required")
	}
	res, err := svc.Create(ctx, platform.Ntfy, platform.ContactRecipient(*topic),
		strings.ToUpper(*from), strings.ToUpper(*to), *threshold)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Reply)
	if !res.OK {
		return errors.New("add: not created")
	}
	return nil
}

func cmdList(ctx context.Context, store storage.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	topic := fs.String("topic", "", "only this topic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f := storage.Filter{Platform: platform.Ntfy}
	if *topic != "" {
		f.Recipient = platform.ContactRecipient(*topic)
	}
	subs, err := store.Subscriptions(ctx, f)
	if err != nil {
		return err
	}
	latest, _, err := store.GetSnapshot(ctx, fees.SeriesAll)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOPIC\tPAIR\tTHRESHOLD\tCURRENT")
	for _, s := range subs {
		current := "-"
		if fee, ok := latest.Get(s.From, s.To); ok {
			current = fmt.Sprintf("%v%%", fee)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s -> %s\t%s%%\t%s\n", s.ID, s.Recipient, s.From, s.To, s.Threshold, current)
	}
	return tw.Flush()
}

func cmdRemove(ctx context.Context, svc *subscription.Service, store storage.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	id := fs.Int64("id", 0, "subscription id")
	topic := fs.String("topic", "", "remove every subscription of this topic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *id > 0 && *topic == "":
		sub, err := store.Subscription(ctx, *id)
		if err != nil {
			return err
		}
		if sub.Platform != platform.Ntfy {
			return fmt.Errorf("remove: subscription %d belongs to %s", *id, sub.Platform)
		}
		res, err := svc.Delete(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Reply)
		return nil
	case *topic != "" && *id == 0:
		res, err := svc.DeleteAll(ctx, platform.Ntfy, platform.ContactRecipient(*topic))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Reply)
		return nil
	}
	return errors.New("remove: exactly one of --id or --topic is required")
}

// cmdTest publishes one message with the configured ntfy credentials.
func cmdTest(ctx context.Context, cfg *config.Config, log logx.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	topic := fs.String("topic", "", "ntfy topic")
	message := fs.String("message", "Test alert from feebot", "message body")
	title := fs.String("title", "", "title header (default: configured title)")
	priority := fs.String("priority", "", "priority header (default: configured priority)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *topic == "" {
		return errors.New("test: --topic is required")
	}
	ad, err := ntfy.New(ntfy.Config{
		BaseURL:         cfg.Ntfy.BaseURL,
		AuthHeader:      cfg.Ntfy.AuthHeader,
		BasicUser:       cfg.Ntfy.BasicUser,
		BasicPass:       cfg.Ntfy.BasicPass,
		DefaultPriority: cfg.Ntfy.DefaultPriority,
		Title:           cfg.Ntfy.Title,
	}, log)
	if err != nil {
		return err
	}
	if err := ad.Start(ctx); err != nil {
		return err
	}
	defer ad.Stop(ctx)
	if err := ad.Publish(ctx, *topic, *message, *title, *priority); err != nil {
		return err
	}
	fmt.Fprintf(out, "published to %s\n", *topic)
	return nil
}
