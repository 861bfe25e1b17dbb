package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/marcus/offsync/internal/interactor"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/portrait"
	"github.com/spf13/cobra"
)

var portraitCmd = &cobra.Command{
	Use:     "portrait",
	Short:   "Download and upload user portraits",
	GroupID: "data",
}

var portraitGetCmd = &cobra.Command{
	Use:   "get <userId>",
	Short: "Fetch a portrait, from the cache when the policy allows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseID("user id", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		outPath, _ := cmd.Flags().GetString("output")
		policy, err := policyFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			req := &portrait.DownloadRequest{Session: a.session, UserID: userID}
			it := &interactor.Interactor{Engine: a.engine, Policy: policy}
			call, err := it.Run(ctx, req)
			if err != nil {
				output.KindError(err)
				return err
			}
			req.Done(call.Sent())

			if outPath == "" {
				fmt.Printf("Portrait of user %d: %s, %s\n", userID, http.DetectContentType(req.Image), humanize.Bytes(uint64(len(req.Image))))
				return nil
			}
			if err := os.WriteFile(outPath, req.Image, 0644); err != nil {
				output.Error("write %s: %v", outPath, err)
				return err
			}
			output.Success("Wrote %s (%s)", outPath, humanize.Bytes(uint64(len(req.Image))))
			return nil
		})(cmd, args)
	},
}

var portraitUploadCmd = &cobra.Command{
	Use:   "upload <userId> <file>",
	Short: "Upload a portrait, keeping it for the next sync when offline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseID("user id", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		image, err := os.ReadFile(args[1])
		if err != nil {
			output.Error("read %s: %v", args[1], err)
			return err
		}
		policy, err := policyFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			req := &portrait.UploadRequest{Session: a.session, UserID: userID, Image: image}
			it := &interactor.Interactor{Engine: a.engine, Strategy: writeStrategy(policy)}
			call, err := it.Run(ctx, req)
			if err == nil {
				err = a.engine.Flush()
			}
			if err != nil {
				output.KindError(err)
				return err
			}
			if call.Sent() {
				output.Success("Uploaded portrait of user %d", userID)
				return nil
			}
			output.Warning("Stored portrait of user %d for the next sync", userID)
			return nil
		})(cmd, args)
	},
}

func init() {
	portraitGetCmd.Flags().StringP("output", "o", "", "Write the image to this file")
	addPolicyFlag(portraitGetCmd)
	addPolicyFlag(portraitUploadCmd)

	portraitCmd.AddCommand(portraitGetCmd, portraitUploadCmd)
	rootCmd.AddCommand(portraitCmd)
}
