package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lingua/internal/chat"
	"lingua/internal/config"
	"lingua/internal/gemini"
	"lingua/internal/logging"
	"lingua/internal/profile"
	"lingua/internal/speech"
)

var (
	configPath string
	verbose    bool
	apiKey     string
	pairID     string
)

var rootCmd = &cobra.Command{
	Use:   "lingua",
	Short: "lingua - conversational language tutor",
	Long: `lingua is a conversational language tutoring client.

Each message becomes one orchestrated turn against the generation
service, with bounded durable history, verified media references, and
best-effort enrichment (reply suggestions, illustrations, speech).`,
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lingua.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&pairID, "pair", "default", "conversation pair identifier")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key: set --api-key, llm.api_key, or GEMINI_API_KEY")
	}
	if err := logging.Init(verbose || cfg.Logging.Verbose); err != nil {
		return err
	}
	defer logging.Sync()

	store, err := chat.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles, err := profile.NewStore(store.DB())
	if err != nil {
		return err
	}

	client := gemini.NewClient(gemini.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		ImageModel: cfg.LLM.ImageModel,
		Timeout:    cfg.LLMTimeout(),
	})

	dispatcher := speech.NewDispatcher(speech.NoopSynthesizer{}, cfg.Speech.Provider, cfg.Speech.Voice)

	// Recognizer and Capture stay nil in the terminal binary; a
	// microphone/camera frontend supplies them. The auto-send-on-silence
	// machine only makes sense with a recognizer attached.
	orch := chat.New(pairID, settingsFrom(cfg), chat.Deps{
		History: store,
		Profile: profiles,
		Gen:     client,
		Images:  client,
		Objects: client,
		Speech:  dispatcher,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reengager *chat.Reengager
	reengager = chat.NewReengager(chat.SystemClock(),
		time.Duration(cfg.Conversation.ReengageWatchSeconds)*time.Second,
		time.Duration(cfg.Conversation.ReengageCountdownSeconds)*time.Second,
		func() {
			// A rejected synthetic send (speech still playing, turn in
			// flight) re-arms the watch instead of going silent.
			if !orch.Send(ctx, chat.SendRequest{Synthetic: true}) {
				reengager.Request("engage-retry")
			}
		})
	orch.SetReengager(reengager)

	done := make(chan string, 1)
	orch.SetOnTurnDone(func(assistantID string, err error) {
		done <- assistantID
	})

	watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
		orch.UpdateSettings(settingsFrom(fresh))
	})
	if err == nil {
		go watcher.Run(ctx)
		defer watcher.Close()
	}

	fmt.Printf("lingua — tutoring in %s (native %s). /reset clears history, /quit exits.\n",
		cfg.Conversation.TargetLanguage, cfg.Conversation.NativeLanguage)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			orch.Wait()
			return nil
		case line == "/reset":
			if err := store.Reset(pairID); err != nil {
				fmt.Println("reset failed:", err)
			}
			continue
		case line == "/bookmark":
			if err := setBookmarkToLatest(store, pairID); err != nil {
				fmt.Println("bookmark failed:", err)
			}
			continue
		}

		if !orch.Send(ctx, chat.SendRequest{Text: line}) {
			fmt.Println("(busy — previous turn still running)")
			continue
		}

		select {
		case assistantID := <-done:
			printReply(store, pairID, assistantID)
		case <-ctx.Done():
			orch.Wait()
			return nil
		}
	}
	orch.Wait()
	return nil
}

func settingsFrom(cfg *config.Config) chat.Settings {
	return chat.Settings{
		TargetLanguage:    cfg.Conversation.TargetLanguage,
		NativeLanguage:    cfg.Conversation.NativeLanguage,
		NativePrefix:      cfg.Conversation.NativePrefix,
		SystemInstruction: cfg.Conversation.SystemInstruction,
		MaxVisibleTurns:   cfg.Conversation.MaxVisibleTurns,
		AutoSnapshot:      cfg.Conversation.AutoSnapshot,
		SpeakNative:       cfg.Conversation.SpeakNative,
		ImageGeneration:   cfg.Conversation.ImageGeneration,
		Search:            cfg.LLM.EnableSearch,
	}
}

func setBookmarkToLatest(store *chat.Store, pairID string) error {
	msgs, err := store.Load(pairID)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsRealTurn() {
			return store.SetBookmark(pairID, msgs[i].ID)
		}
	}
	return fmt.Errorf("no message to bookmark")
}

func printReply(store *chat.Store, pairID, assistantID string) {
	msgs, err := store.Load(pairID)
	if err != nil {
		fmt.Println("load failed:", err)
		return
	}
	for _, m := range msgs {
		if m.ID != assistantID {
			continue
		}
		if m.Role == chat.RoleError {
			fmt.Println("! " + m.Text)
			return
		}
		for _, tr := range m.Translations {
			fmt.Println(tr.TargetText)
			if tr.NativeText != "" {
				fmt.Println("  " + tr.NativeText)
			}
		}
		if len(m.Translations) == 0 && m.Text != "" {
			fmt.Println(m.Text)
		}
		return
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
