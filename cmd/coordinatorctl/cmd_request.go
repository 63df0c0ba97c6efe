package main

import (
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srand/jolt/coordinator/pkg/protocol"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Commands to inspect and manipulate build requests",
}

func printRequests(requests []protocol.BuildRequest) {
	for _, request := range requests {
		state := "unclaimed"
		switch {
		case request.Complete:
			state = request.Result.String()
		case request.ClaimedAt != nil:
			state = "claimed by " + request.ClaimedBy
		}
		fmt.Printf("%d: buildset %d %-12s %3d %s\n", request.ID, request.BuildsetID, request.Builder, request.Priority, state)
	}
}

func parseIDs(args []string) []int64 {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

var requestListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List build requests",
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		if builder, _ := cmd.Flags().GetString("builder"); builder != "" {
			query.Set("builder", builder)
		}
		for _, flag := range []string{"claimed", "complete"} {
			if cmd.Flags().Changed(flag) {
				value, _ := cmd.Flags().GetBool(flag)
				query.Set(flag, strconv.FormatBool(value))
			}
		}

		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		requests := []protocol.BuildRequest{}
		if err := NewCoordinatorClient().Get(ctx, "/api/requests?"+query.Encode(), &requests); err != nil {
			log.Fatal(err)
		}
		printRequests(requests)
	},
}

var requestCancelCmd = &cobra.Command{
	Use:   "cancel [id]...",
	Short: "Cancel unclaimed build requests",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		client := NewCoordinatorClient()
		for _, id := range parseIDs(args) {
			if err := client.Post(ctx, fmt.Sprintf("/api/requests/%d/cancel", id), nil, nil); err != nil {
				log.Fatal(err)
			}
			log.Println("cancelled", id)
		}
	},
}

var requestCompleteCmd = &cobra.Command{
	Use:   "complete [id]...",
	Short: "Report build requests as complete",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("result")
		result, err := protocol.ParseResult(name)
		if err != nil || result == protocol.ResultNone {
			log.Fatalf("invalid result: %s", name)
		}

		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		request := &protocol.CompleteRequestsRequest{RequestIDs: parseIDs(args), Result: result}
		if err := NewCoordinatorClient().Post(ctx, "/api/requests/complete", request, nil); err != nil {
			log.Fatal(err)
		}
	},
}

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule [builder]...",
	Short: "Schedule pending requests of builders, or of all builders",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		if err := NewCoordinatorClient().Post(ctx, "/api/reschedule", &protocol.RescheduleRequest{Builders: args}, nil); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	requestListCmd.Flags().StringP("builder", "b", "", "Only list requests of the builder")
	requestListCmd.Flags().Bool("claimed", false, "Only list claimed (or with =false, unclaimed) requests")
	requestListCmd.Flags().Bool("complete", false, "Only list complete (or with =false, incomplete) requests")
	requestCompleteCmd.Flags().StringP("result", "r", "success", "Result of the build")

	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestCancelCmd)
	requestCmd.AddCommand(requestCompleteCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(rescheduleCmd)
}
