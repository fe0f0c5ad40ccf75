package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrate/internal/config"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/settings"
)

var voicesCmd = &cobra.Command{
	Use:     "voices",
	Short:   "List the known voices",
	Long:    paragraph(fmt.Sprintf("\n%s the voices listed in the config file and mark the ones in use.", keyword("List"))),
	Example: paragraph("narrate voices"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// an incomplete config still lists its voices
		c, err := config.Load(viper.GetViper())
		if err != nil {
			log.Debug("config does not validate", "err", err)
		}

		active := c.Settings().Voices()
		if sp, err := settingsPath(); err == nil {
			if _, statErr := os.Stat(sp); statErr == nil {
				if saved, err := settings.Load(sp); err == nil {
					active = saved.Voices()
				}
			}
		}
		return printVoices(cmd.OutOrStdout(), c.Voices.Known, active)
	},
}

func printVoices(w io.Writer, known []string, active generate.Voices) error {
	voices := slices.Clone(known)
	for _, v := range []string{active.Narrator, active.Dialogue} {
		if !slices.Contains(voices, v) {
			voices = append(voices, v)
		}
	}

	for _, v := range voices {
		var roles []string
		if v == active.Narrator {
			roles = append(roles, "narrator")
		}
		if v == active.Dialogue {
			roles = append(roles, "dialogue")
		}

		line := "  " + v
		if len(roles) > 0 {
			line = "* " + keyword(v) + " " + faint(fmt.Sprintf("%v", roles))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("unable to write to writer: %w", err)
		}
	}
	return nil
}
