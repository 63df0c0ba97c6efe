package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/utils"
	"gopkg.in/yaml.v3"
)

var buildsetCmd = &cobra.Command{
	Use:   "buildset",
	Short: "Commands to create and inspect buildsets",
}

// Reads a buildset document. Flags given on the command line
// override the document.
func readBuildsetFile(fs afero.Fs, path string) (*protocol.CreateBuildsetRequest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	request := &protocol.CreateBuildsetRequest{}
	if err := yaml.Unmarshal(data, request); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrParse, path, err)
	}
	return request, nil
}

var buildsetAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Submit a buildset",
	Run: func(cmd *cobra.Command, args []string) {
		request := &protocol.CreateBuildsetRequest{}

		if file, _ := cmd.Flags().GetString("file"); file != "" {
			var err error
			request, err = readBuildsetFile(afero.NewOsFs(), file)
			if err != nil {
				log.Fatal(err)
			}
		}

		if builders, _ := cmd.Flags().GetStringSlice("builder"); len(builders) > 0 {
			request.Builders = builders
		}
		if cmd.Flags().Changed("reason") {
			request.Reason, _ = cmd.Flags().GetString("reason")
		}
		if cmd.Flags().Changed("priority") {
			request.Priority, _ = cmd.Flags().GetInt("priority")
		}

		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		response := &protocol.CreateBuildsetResponse{}
		if err := NewCoordinatorClient().Post(ctx, "/api/buildsets", request, response); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("buildset %d\n", response.BuildsetID)
		for _, builder := range request.Builders {
			fmt.Printf("  %s: request %d\n", builder, response.Requests[builder])
		}
	},
}

var buildsetShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a buildset and its requests",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		buildset := &protocol.Buildset{}
		if err := NewCoordinatorClient().Get(ctx, fmt.Sprintf("/api/buildsets/%d", id), buildset); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("%d: %s %s %s\n", buildset.ID, buildset.Reason, buildset.Result, buildset.SubmittedAt.Format("2006-01-02T15:04:05"))
		for _, stamp := range buildset.SourceStamps {
			fmt.Printf("  %s %s %s %s\n", stamp.Codebase, stamp.Repository, stamp.Branch, stamp.Revision)
		}
		printRequests(buildset.Requests)
	},
}

func init() {
	buildsetAddCmd.Flags().StringP("file", "f", "", "Buildset document (YAML)")
	buildsetAddCmd.Flags().StringSliceP("builder", "b", nil, "Builders to request builds from")
	buildsetAddCmd.Flags().StringP("reason", "r", "", "Reason for the buildset")
	buildsetAddCmd.Flags().IntP("priority", "p", 0, "Priority, lower is more urgent")

	buildsetCmd.AddCommand(buildsetAddCmd)
	buildsetCmd.AddCommand(buildsetShowCmd)
	rootCmd.AddCommand(buildsetCmd)
}
