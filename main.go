// Package main provides the entry point for the narrate CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/config"
	"github.com/dgnsrekt/narrate/internal/session"
	"github.com/dgnsrekt/narrate/internal/settings"
	"github.com/dgnsrekt/narrate/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	start      int
	play       bool
	narrator   string
	dialogue   string
	speed      float64
	debug      bool

	cfg      config.Config
	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "narrate SOURCE",
		Short: "Read markdown chapters aloud, paragraph by paragraph",
		Long: paragraph(
			fmt.Sprintf("\nRead markdown chapters aloud, %s.", keyword("paragraph by paragraph")),
		),
		Example:          paragraph("narrate chapter-01.md\nnarrate --start 12 --play chapter-01.md\nnarrate --narrator amy chapter-01.md > /dev/null"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return []string{"md", "markdown"}, cobra.ShellCompDirectiveFilterFileExt
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if closeLog, err = setupLog(); err != nil {
				return err
			}
			if cmd != cmd.Root() {
				return nil
			}
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(config.ExpandPath(configFile))
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("%w\nrun %s to edit %s", err, keyword("narrate config"), viper.ConfigFileUsed())
	}

	// voice flags are matched against the known voices
	if cmd.Flags().Changed("narrator") {
		if narrator, err = settings.ResolveVoice(narrator, cfg.Voices.Known); err != nil {
			return fmt.Errorf("--narrator: %w", err)
		}
	}
	if cmd.Flags().Changed("dialogue") {
		if dialogue, err = settings.ResolveVoice(dialogue, cfg.Voices.Known); err != nil {
			return fmt.Errorf("--dialogue: %w", err)
		}
	}
	if start < 0 {
		return errors.New("--start must not be negative")
	}
	return nil
}

func settingsPath() (string, error) {
	return gap.NewScope(gap.User, "narrate").ConfigPath(settings.FileName) //nolint:wrapcheck
}

func execute(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(config.ExpandPath(args[0]))
	if err != nil {
		return fmt.Errorf("unable to get absolute path: %w", err)
	}
	ch, err := chapter.Load(path)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if len(ch.Paragraphs) == 0 {
		return fmt.Errorf("%s has no paragraphs to read", args[0])
	}
	if start >= len(ch.Paragraphs) {
		return fmt.Errorf("--start %d is past the last paragraph (%d)", start, len(ch.Paragraphs)-1)
	}

	sp, err := settingsPath()
	if err != nil {
		log.Warn("Could not find settings path, settings will not be saved", "err", err)
		sp = ""
	}

	sess, err := session.Open(ch, session.Options{
		Config:       cfg,
		SettingsPath: sp,
		Logger:       log.Default(),
	})
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer func() { _ = sess.Close() }()

	if err := applyFlags(cmd, sess); err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		return runHeadless(cmd.Context(), sess, start)
	}
	if err := sess.Start(start, play); err != nil {
		return err //nolint:wrapcheck
	}
	return runTUI(sess, path)
}

// applyFlags lets voice and speed flags win over the saved settings.
func applyFlags(cmd *cobra.Command, sess *session.Session) error {
	if cmd.Flags().Changed("narrator") || cmd.Flags().Changed("dialogue") {
		cur := sess.Settings.Get()
		n, d := cur.Narrator, cur.Dialogue
		if cmd.Flags().Changed("narrator") {
			n = narrator
			if !cmd.Flags().Changed("dialogue") {
				d = ""
			}
		}
		if cmd.Flags().Changed("dialogue") {
			d = dialogue
		}
		if err := sess.Controller.SetVoices(n, d); err != nil {
			return fmt.Errorf("unable to set voices: %w", err)
		}
	}
	if cmd.Flags().Changed("speed") {
		if err := sess.Controller.SetSpeed(speed); err != nil {
			return fmt.Errorf("unable to set speed: %w", err)
		}
	}
	return nil
}

func runTUI(sess *session.Session, path string) error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uiCfg.Path = path
	uiCfg.KnownVoices = cfg.Voices.Known

	return ui.Run(uiCfg, sess)
}

func main() {
	err := rootCmd.Execute()
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write a debug log to the data dir")
	rootCmd.Flags().IntVarP(&start, "start", "s", 0, "paragraph to start from (the title is 0)")
	rootCmd.Flags().BoolVarP(&play, "play", "p", false, "start playing right away")
	rootCmd.Flags().StringVar(&narrator, "narrator", "", "narrator voice")
	rootCmd.Flags().StringVar(&dialogue, "dialogue", "", "voice for quoted dialogue (default: the narrator voice)")
	rootCmd.Flags().Float64Var(&speed, "speed", 1, "playback speed (0.5 to 2)")
	rootCmd.Flags().String("engine", "", "TTS engine (http or mock)")
	rootCmd.Flags().String("endpoint", "", "TTS service endpoint (http engine)")
	rootCmd.Flags().String("audio", "", "audio output (oto or virtual)")

	_ = rootCmd.RegisterFlagCompletionFunc("narrator", completeVoices)
	_ = rootCmd.RegisterFlagCompletionFunc("dialogue", completeVoices)

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("tts.engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("tts.endpoint", rootCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("playback.audio", rootCmd.Flags().Lookup("audio"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd, voicesCmd)
}

func completeVoices(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return viper.GetStringSlice("voices.known"), cobra.ShellCompDirectiveNoFileComp
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narrate")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narrate")}, dirs...)
	}

	if c := os.Getenv("NARRATE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narrate")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "narrate.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
