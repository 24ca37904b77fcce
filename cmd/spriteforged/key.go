package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"SpriteForge/internal/cache"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/prompt"
)

// newKeyCmd 打印请求对应的缓存键，便于排查缓存命中问题。
func newKeyCmd() *cobra.Command {
	var (
		style      string
		motions    []string
		directions []string
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "key <prompt>",
		Short: "Print the atlas cache key of a sprite request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(args[0])
			if text == "" {
				return fmt.Errorf("prompt 不能为空")
			}
			var dirs []motion.Direction
			seen := make(map[motion.Direction]bool)
			for _, raw := range directions {
				dir, ok := motion.ParseDirection(raw)
				if !ok {
					return fmt.Errorf("invalid direction: %s", raw)
				}
				if !seen[dir] {
					seen[dir] = true
					dirs = append(dirs, dir)
				}
			}
			motion.SortDirections(dirs)
			names := make([]string, len(dirs))
			for i, dir := range dirs {
				names[i] = string(dir)
			}
			styleKey := prompt.NewBuilder().Style(style).Key
			key := cache.Key(text, styleKey, cache.MotionsToken(motions, names), seed)
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "style key")
	cmd.Flags().StringSliceVar(&motions, "motions", []string{"idle", "walk"}, "motions in request order")
	cmd.Flags().StringSliceVar(&directions, "directions", nil, "requested directions")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generation seed")
	return cmd
}
