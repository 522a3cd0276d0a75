package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/metrics"
	"jordanella.com/gather-bot/internal/ocr"
	"jordanella.com/gather-bot/internal/screenstate"
)

func instancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List emulator instances and their adb ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mgr, err := newEmulatorManager(cfg.Emulator)
			if err != nil {
				return err
			}

			list, err := mgr.Instances(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list instances: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tRUNNING\tADB PORT")
			for _, inst := range list {
				fmt.Fprintf(tw, "%d\t%s\t%v\t%d\n", inst.Index, inst.Name, inst.Running(), inst.ADBPort)
			}
			return tw.Flush()
		},
	}
}

func ocrCmd() *cobra.Command {
	var (
		imagePath string
		profile   string
		region    string
	)

	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Run the text extractor against a saved screenshot",
		Long: `Crops a region from a PNG screenshot and runs the OCR profile on it.
The queue-panel profile also prints the slot classification.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var p ocr.Profile
			var def image.Rectangle
			switch profile {
			case "time":
				p, def = ocr.TimeProfile(), gather.RegionMarchTime
			case "queue-panel":
				p, def = ocr.QueuePanelProfile(), gather.RegionQueuePanel
			default:
				return fmt.Errorf("unknown profile %q, want time or queue-panel", profile)
			}

			frame, err := readPNG(imagePath)
			if err != nil {
				return err
			}

			rect := def
			if region != "" {
				if rect, err = parseRect(region); err != nil {
					return err
				}
			}
			b := frame.Bounds()
			rect = gather.Layout{Width: b.Dx(), Height: b.Dy()}.Rect(rect)

			text := newExtractor(cfg.OCR, metrics.New()).Extract(cmd.Context(), cv.CropRegion(frame, rect), p)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "region %v\n%s\n", rect, text)

			if profile == "queue-panel" {
				for i, s := range screenstate.Classify(screenstate.SplitLines(text)) {
					fmt.Fprintf(out, "slot %d: %s\n", i+1, s)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "PNG screenshot to read")
	cmd.Flags().StringVar(&profile, "profile", "time", "OCR profile: time or queue-panel")
	cmd.Flags().StringVar(&region, "region", "", "x1,y1,x2,y2 in 720x1280 reference coordinates")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func readPNG(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cv.ToRGBA(img), nil
}

func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("region %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	r := image.Rect(v[0], v[1], v[2], v[3])
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("region %q is empty", s)
	}
	return r, nil
}
