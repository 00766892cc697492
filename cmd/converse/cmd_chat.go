package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"converse/internal/domain"
	"converse/internal/metrics"
	"converse/internal/policy"
	"converse/internal/processor"
	"converse/internal/store"
	"converse/internal/tracker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	chatModelDir    string
	chatDomainPath  string
	chatStorePath   string
	chatMetricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a trained model on the command line",
	Long: `Starts a minimal read-eval loop against the trained model. Messages
of the form /intent or /intent{"entity": "value"} are taken literally; any
other input is matched against the domain's intent names by keyword. There
is no NLU model behind this parser.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModelDir, "model", "m", "model", "trained model directory")
	chatCmd.Flags().StringVarP(&chatDomainPath, "domain", "d", "domain.yml", "domain file or directory")
	chatCmd.Flags().StringVar(&chatStorePath, "store", "", "SQLite tracker store path (default in-memory)")
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runChat(cmd *cobra.Command, args []string) error {
	log := logger.Named("chat")

	d, err := domain.FromPath(chatDomainPath, log)
	if err != nil {
		return err
	}
	ensemble, err := policy.LoadEnsemble(chatModelDir, log)
	if err != nil {
		return err
	}

	var trackerStore store.TrackerStore = store.NewInMemoryTrackerStore()
	if chatStorePath != "" {
		trackerStore, err = store.NewSQLiteTrackerStore(chatStorePath)
		if err != nil {
			return err
		}
	}
	defer trackerStore.Close()

	if chatMetricsAddr != "" {
		metrics.Register(nil)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(chatMetricsAddr, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", chatMetricsAddr))
	}

	p := processor.New(d, ensemble, trackerStore, 0, log)
	senderID := uuid.NewString()

	fmt.Println("Type a message, /intent to send an intent directly, or /quit to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		msg := parseMessage(d, line)
		responses, err := p.HandleMessage(cmd.Context(), senderID, msg)
		if err != nil {
			return err
		}
		for _, r := range responses {
			fmt.Printf("bot> %s\n", r)
		}
	}
	return scanner.Err()
}

// parseMessage turns a chat line into a parsed message. Slash messages name
// the intent directly; everything else is matched by keyword against the
// domain's intent names.
func parseMessage(d *domain.Domain, line string) processor.Message {
	msg := processor.Message{Text: line}

	if strings.HasPrefix(line, "/") {
		body := line[1:]
		name := body
		if brace := strings.Index(body, "{"); brace >= 0 {
			name = body[:brace]
			var values map[string]string
			if err := json.Unmarshal([]byte(body[brace:]), &values); err == nil {
				for _, entity := range sortedEntityNames(values) {
					msg.Entities = append(msg.Entities,
						tracker.Entity{Name: entity, Value: values[entity]})
				}
			}
		}
		msg.Intent = tracker.Intent{Name: name, Confidence: 1.0}
		return msg
	}

	lowered := strings.ToLower(line)
	for _, intentName := range d.Intents() {
		if strings.Contains(lowered, strings.ToLower(intentName)) {
			msg.Intent = tracker.Intent{Name: intentName, Confidence: 0.8}
			return msg
		}
	}
	// No match: an empty low-confidence intent lets the fallback policy
	// take over.
	msg.Intent = tracker.Intent{Confidence: 0.01}
	return msg
}

func sortedEntityNames(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
