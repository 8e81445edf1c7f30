package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/voice-studio/internal/connectivity"
	"github.com/book-expert/voice-studio/internal/studio"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Output formats.
const (
	healthLineFormat = "%s: %s\n"
	voiceLineFormat  = "%s %s\n"
	savedLineFormat  = "%s\n"
	clonedLineFormat = "cloned voice %s\n"
	selectedMarker   = "*"
	unselectedMarker = " "
)

var (
	errServiceNotOnline = errors.New("synthesis service is not online")
	errNoText           = errors.New("no text given, use --text or pass it as arguments")
)

func newHealthCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the synthesis service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := application.open()
			if err != nil {
				return err
			}

			state := session.Start(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), healthLineFormat, session.ServiceURL(), state)

			if state != connectivity.Online {
				return fmt.Errorf("%w: %s", errServiceNotOnline, state)
			}

			return nil
		},
	}
}

func newVoicesCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voice profiles known to the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := application.open()
			if err != nil {
				return err
			}

			state := session.Start(cmd.Context())
			if state != connectivity.Online {
				return fmt.Errorf("%w: %s", errServiceNotOnline, state)
			}

			printVoices(cmd, session)

			return nil
		},
	}
}

func printVoices(cmd *cobra.Command, session *studio.Session) {
	selected, _ := session.SelectedVoice()

	for _, profile := range session.Voices() {
		marker := unselectedMarker
		if profile.ID == selected.ID {
			marker = selectedMarker
		}

		fmt.Fprintf(cmd.OutOrStdout(), voiceLineFormat, marker, profile.ID)
	}
}

func newSayCommand(application *app) *cobra.Command {
	var (
		text string
		dir  string
		opts studio.GenerateOptions
	)

	cmd := &cobra.Command{
		Use:   "say [text...]",
		Short: "Render text to speech and save it to the download directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				text = strings.Join(args, " ")
			}

			if strings.TrimSpace(text) == "" {
				return errNoText
			}

			if dir != "" {
				application.cfg.Paths.DownloadDir = dir
			}

			session, err := application.open()
			if err != nil {
				return err
			}

			state := session.Start(cmd.Context())
			if state != connectivity.Online {
				return fmt.Errorf("%w: %s", errServiceNotOnline, state)
			}

			result, err := session.Generate(cmd.Context(), text, opts)
			if err != nil {
				return fmt.Errorf("failed to generate audio: %w", err)
			}

			path, err := session.Download(cmd.Context(), result.ID)
			if err != nil {
				return fmt.Errorf("failed to save audio: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), savedLineFormat, path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to render")
	cmd.Flags().StringVarP(&opts.Voice, "voice", "v", "", "Voice profile id (defaults to the first known voice)")
	cmd.Flags().StringVarP(&opts.Language, "language", "l", "", "Language code, e.g. en or es")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: wav or mp3")
	cmd.Flags().StringVarP(&dir, "dir", "o", "", "Directory to save the rendered file in")

	return cmd
}

func newCloneCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <sample>",
		Short: "Upload a voice sample and register it as a voice profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := application.open()
			if err != nil {
				return err
			}

			state := session.Start(cmd.Context())
			if state != connectivity.Online {
				return fmt.Errorf("%w: %s", errServiceNotOnline, state)
			}

			profile, err := session.Clone(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to clone voice: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), clonedLineFormat, profile.ID)

			return nil
		},
	}
}

func newServeCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer render requests from NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := application.open()
			if err != nil {
				return err
			}

			session.Start(cmd.Context())

			group, ctx := errgroup.WithContext(cmd.Context())
			group.Go(func() error { return session.Watch(ctx) })
			group.Go(func() error { return session.Serve(ctx) })

			return group.Wait()
		},
	}
}
