package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/outreach"
	"github.com/MikeSquared-Agency/envoy/internal/platform"
	"github.com/MikeSquared-Agency/envoy/internal/processor"
	"github.com/MikeSquared-Agency/envoy/internal/scraper"
)

const testUserID = "test_user_001"

var (
	scrapeLimit int
	sendFile    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the dialog engine in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runChat(ctx, a.engine, bufio.NewReader(os.Stdin), os.Stdout)
		})
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <group>",
	Short: "Collect the members of a group into the members file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runScrape(ctx, a, args[0], scrapeLimit, os.Stdout)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [username...]",
	Short: "Greet users within the daily limit",
	Long: `Greets the given usernames, or with --from-file every member of the
members file, pausing between messages and stopping at the daily limit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			usernames := args
			if sendFile {
				records, err := scraper.LoadJSON(a.cfg.MembersFile)
				if err != nil {
					return err
				}
				usernames = usernamesOf(records)
			}
			if len(usernames) == 0 {
				return errors.New("no usernames given")
			}
			return runSend(ctx, a, usernames, os.Stdout)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show agent, model and storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printStats(ctx, a, os.Stdout)
		})
	},
}

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Interactive console menu",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runMenu(ctx, a, os.Stdin, os.Stdout)
		})
	},
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeLimit, "limit", 100, "maximum members to fetch")
	sendCmd.Flags().BoolVar(&sendFile, "from-file", false, "send to every member in ENVOY_MEMBERS_FILE")
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// turnHandler is the part of the engine the test dialog drives.
type turnHandler interface {
	Handle(ctx context.Context, userID, text string) (dialog.Reply, error)
	Reset(ctx context.Context, userID string) error
}

// runChat runs the test dialog for testUserID until the user says goodbye
// with "выход"/"exit" or input ends. Each run starts from a clean state.
func runChat(ctx context.Context, h turnHandler, in *bufio.Reader, out io.Writer) error {
	if err := h.Reset(ctx, testUserID); err != nil {
		return fmt.Errorf("reset test dialog: %w", err)
	}
	fmt.Fprintln(out, "Тестовый диалог. Напишите \"выход\" для завершения.")
	for {
		fmt.Fprint(out, "Вы: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		reply, err := h.Handle(ctx, testUserID, text)
		if err != nil {
			fmt.Fprintf(out, "[ошибка: %v]\n", err)
		}
		fmt.Fprintf(out, "Бот: %s\n", reply.Text)
		fmt.Fprintf(out, "  [intent=%s confidence=%.1f entities=%v]\n", reply.Intent, reply.Confidence, reply.Entities)

		if isExit(text) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func isExit(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "выход", "exit":
		return true
	}
	return false
}

func runScrape(ctx context.Context, a *app, group string, limit int, out io.Writer) error {
	sc, err := a.scraper()
	if err != nil {
		return err
	}
	records, err := sc.Scrape(ctx, group, limit)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", group, err)
	}
	if err := scraper.SaveJSON(a.cfg.MembersFile, records); err != nil {
		return err
	}
	fmt.Fprintf(out, "Сохранено в %s: %s\n", a.cfg.MembersFile, scraper.Analyze(records))
	return nil
}

func runSend(ctx context.Context, a *app, usernames []string, out io.Writer) error {
	s, err := a.sender()
	if err != nil {
		return err
	}
	res, err := s.Run(ctx, usernames)
	fmt.Fprintf(out, "Отправлено: %d, ошибок: %d, пропущено: %d\n", res.Sent, res.Failed, res.Skipped)
	return err
}

func usernamesOf(records []scraper.MemberRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.HasUsername() {
			out = append(out, r.Username)
		}
	}
	return out
}

func printStats(ctx context.Context, a *app, out io.Writer) error {
	cat := a.flows.Current()
	fmt.Fprintf(out, "Агент: %s\n", cat.Agent().Name)
	fmt.Fprintf(out, "Цели: %v\n", cat.Goals())
	fmt.Fprintf(out, "Модель: %s\n", a.cfg.OllamaModel)

	n, err := a.states.Len(ctx)
	if err != nil {
		return fmt.Errorf("count dialogs: %w", err)
	}
	fmt.Fprintf(out, "Активных диалогов: %d\n", n)

	if a.db != nil {
		leads, err := a.db.CountLeads(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Сохранено лидов: %d\n", leads)
	}

	if campaign, err := outreach.LoadCampaign(a.cfg.CampaignStatePath); err == nil {
		campaign.Roll(time.Now())
		fmt.Fprintf(out, "Отправлено сегодня: %d/%d\n", campaign.SentToday, a.cfg.MaxMessagesPerDay)
	}
	return nil
}

const menuText = `
==============================
 1. Тестовый диалог
 2. Парсинг группы
 3. Рассылка из файла
 4. Статистика
 5. Автоответчик
 0. Выход
==============================`

func runMenu(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimSpace(line), true
	}

	for {
		fmt.Fprintln(out, menuText)
		choice, ok := prompt("Выберите действие (0-5): ")
		if !ok {
			return nil
		}

		var err error
		switch choice {
		case "1":
			err = runChat(ctx, a.engine, r, out)
		case "2":
			group, _ := prompt("ID группы или @username: ")
			limit := 100
			if s, _ := prompt("Сколько участников (100): "); s != "" {
				if n, convErr := strconv.Atoi(s); convErr == nil {
					limit = n
				}
			}
			err = runScrape(ctx, a, group, limit, out)
		case "3":
			records, loadErr := scraper.LoadJSON(a.cfg.MembersFile)
			if loadErr != nil {
				err = loadErr
				break
			}
			err = runSend(ctx, a, usernamesOf(records), out)
		case "4":
			err = printStats(ctx, a, out)
		case "5":
			err = runResponder(ctx, a, out)
		case "0":
			fmt.Fprintln(out, "Выход...")
			return nil
		default:
			fmt.Fprintln(out, "Неверный выбор")
		}
		if err != nil {
			fmt.Fprintf(out, "Ошибка: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runResponder answers inbound messages until ctx is cancelled.
func runResponder(ctx context.Context, a *app, out io.Writer) error {
	if a.bus == nil {
		return errNoGateway
	}
	proc := processor.New(a.engine, a.gateway, a.logger)
	if err := a.bus.Subscribe(platform.SubjectInbound, proc.HandleInbound); err != nil {
		return err
	}
	fmt.Fprintln(out, "Автоответчик запущен. Ctrl+C для остановки.")
	<-ctx.Done()
	return nil
}
