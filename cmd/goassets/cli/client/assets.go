package client

import (
	"fmt"
	"strings"

	"github.com/mwantia/goassets/pkg/assets"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/spf13/cobra"
)

func NewAssetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage the asset catalog",
		Long:  "List, inspect, tag and remove asset references in the catalog.",
	}

	cmd.AddCommand(NewAssetsListCommand())
	cmd.AddCommand(NewAssetsGetCommand())
	cmd.AddCommand(NewAssetsRemoveCommand())
	cmd.AddCommand(NewAssetsTagCommand())
	cmd.AddCommand(NewAssetsTagsCommand())

	return cmd
}

func NewAssetsListCommand() *cobra.Command {
	var (
		owner       string
		name        string
		includeTags []string
		excludeTags []string
		sort        string
		order       string
		limit       int
		offset      int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List asset references",
		Long:  "List asset references with optional name, tag and pagination filters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			service := assets.NewService(st, logger)
			result, err := service.List(ctx, store.ListOptions{
				OwnerID:      owner,
				NameContains: name,
				IncludeTags:  includeTags,
				ExcludeTags:  excludeTags,
				Sort:         sort,
				Order:        order,
				Limit:        limit,
				Offset:       offset,
			})
			if err != nil {
				return err
			}

			for _, item := range result.Items {
				state := ""
				if item.Reference.IsMissing {
					state = " (missing)"
				}
				hash := "-"
				if item.Asset.Hash != nil {
					hash = *item.Asset.Hash
				}
				fmt.Printf("%s  %10d  %-24s  %s%s\n",
					item.Reference.ID, item.Asset.SizeBytes, hash, item.Reference.Name, state)
				if len(item.Tags) > 0 {
					fmt.Printf("    tags: %s\n", strings.Join(item.Tags, ", "))
				}
			}
			fmt.Printf("%d of %d references\n", len(result.Items), result.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id for visibility")
	cmd.Flags().StringVar(&name, "name", "", "substring filter on reference name")
	cmd.Flags().StringSliceVar(&includeTags, "tag", nil, "only references carrying this tag (repeatable)")
	cmd.Flags().StringSliceVar(&excludeTags, "exclude-tag", nil, "skip references carrying this tag (repeatable)")
	cmd.Flags().StringVar(&sort, "sort", "created_at", "sort key (name, created_at, updated_at, size, last_access_time)")
	cmd.Flags().StringVar(&order, "order", "desc", "sort order (asc, desc)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of results to skip")

	return cmd
}

func NewAssetsGetCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one asset reference",
		Long:  "Shows the full detail of a single asset reference, including its asset and tags.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			service := assets.NewService(st, logger)
			detail, err := service.Get(ctx, args[0], owner)
			if err != nil {
				return err
			}

			ref := detail.Reference
			fmt.Printf("id:        %s\n", ref.ID)
			fmt.Printf("name:      %s\n", ref.Name)
			fmt.Printf("asset:     %s\n", detail.Asset.ID)
			if detail.Asset.Hash != nil {
				fmt.Printf("hash:      %s\n", *detail.Asset.Hash)
			}
			fmt.Printf("size:      %d\n", detail.Asset.SizeBytes)
			if detail.Asset.MimeType != nil {
				fmt.Printf("mime:      %s\n", *detail.Asset.MimeType)
			}
			if ref.FilePath != nil {
				fmt.Printf("path:      %s\n", *ref.FilePath)
			}
			fmt.Printf("level:     %d\n", ref.EnrichmentLevel)
			fmt.Printf("missing:   %t\n", ref.IsMissing)
			if len(detail.Tags) > 0 {
				fmt.Printf("tags:      %s\n", strings.Join(detail.Tags, ", "))
			}
			if len(ref.UserMetadata) > 0 {
				fmt.Printf("metadata:  %s\n", string(ref.UserMetadata))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id for visibility")

	return cmd
}

func NewAssetsRemoveCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an asset reference",
		Long:  "Removes an asset reference. A stub asset left without references is removed as well.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			service := assets.NewService(st, logger)
			if err := service.Delete(ctx, args[0], owner); err != nil {
				return err
			}

			fmt.Printf("Removed reference %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id for visibility")

	return cmd
}

func NewAssetsTagCommand() *cobra.Command {
	var (
		owner  string
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "tag <id> <tag>...",
		Short: "Add or remove tags on a reference",
		Long:  "Adds the given tags to an asset reference, or removes them with --remove.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			service := assets.NewService(st, logger)

			var change *assets.TagChange
			if remove {
				change, err = service.RemoveTags(ctx, args[0], owner, args[1:])
			} else {
				change, err = service.AddTags(ctx, args[0], owner, args[1:])
			}
			if err != nil {
				return err
			}

			fmt.Printf("changed: %s\n", strings.Join(change.Changed, ", "))
			fmt.Printf("tags:    %s\n", strings.Join(change.Total, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id for visibility")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the tags instead of adding them")

	return cmd
}

func NewAssetsTagsCommand() *cobra.Command {
	var (
		prefix      string
		includeZero bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List known tags with usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			service := assets.NewService(st, logger)
			usage, total, err := service.ListTags(ctx, store.TagListOptions{
				Prefix:      prefix,
				IncludeZero: includeZero,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			for _, tag := range usage {
				fmt.Printf("%6d  %-10s  %s\n", tag.Count, tag.TagType, tag.Name)
			}
			fmt.Printf("%d of %d tags\n", len(usage), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "only tags starting with this prefix")
	cmd.Flags().BoolVar(&includeZero, "all", false, "include tags with zero usage")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of results")

	return cmd
}
