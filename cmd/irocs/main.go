// Command irocs fits curvilinear coordinate frames to point clouds or voxel
// masks, stores them by group, and converts positions to curvilinear
// coordinates.
//
//	irocs fit   -db frames.db -group root1 -points surface.xyz -landmark 0,0,0
//	irocs query -db frames.db -group root1 -points probes.xyz
//	irocs info  -db frames.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/config"
	"github.com/npillmayer/irocs/coupled"
	"github.com/npillmayer/irocs/frame"
	"github.com/npillmayer/irocs/progress"
	"github.com/npillmayer/irocs/store"
	"github.com/npillmayer/irocs/volume"
	"gonum.org/v1/gonum/spatial/r3"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: irocs fit|query|info [flags]\n")
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("irocs: ")
	if len(os.Args) < 2 {
		usage()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var err error
	switch os.Args[1] {
	case "fit":
		err = runFit(ctx, os.Args[2:])
	case "query":
		err = runQuery(ctx, os.Args[2:], os.Stdout)
	case "info":
		err = runInfo(ctx, os.Args[2:], os.Stdout)
	default:
		usage()
	}
	if errors.Is(err, irocs.ErrCancelled) {
		log.Printf("interrupted: %v", err)
		os.Exit(130)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// === fit ===================================================================

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	dbPath := fs.String("db", "frames.db", "path to the frame database")
	group := fs.String("group", "", "group name to store the frame under")
	pointsPath := fs.String("points", "", "surface points, one 'x y z' per line")
	maskPath := fs.String("mask", "", "raw 8-bit voxel mask (alternative to -points)")
	shape := fs.String("shape", "", "mask shape 'nx,ny,nz'")
	voxel := fs.String("voxel", "1,1,1", "voxel size 'ex,ey,ez'")
	threshold := fs.Uint("threshold", 1, "foreground threshold for -mask")
	landmark := fs.String("landmark", "", "landmark position 'x,y,z'")
	cfgPath := fs.String("config", "", "JSON fit configuration")
	withCache := fs.Bool("cache", false, "store the arc-length cache")
	plotPath := fs.String("plot", "", "write a thickness profile to this PNG/SVG file")
	fs.Parse(args)
	if *group == "" || *landmark == "" || (*pointsPath == "") == (*maskPath == "") {
		fs.Usage()
		return fmt.Errorf("%w: need -group, -landmark and one of -points or -mask", irocs.ErrInput)
	}
	lm, err := parseVec(*landmark)
	if err != nil {
		return err
	}
	params := coupled.DefaultParams()
	if *cfgPath != "" {
		cfg, err := config.LoadFitConfig(*cfgPath)
		if err != nil {
			return err
		}
		params = cfg.Params()
	}
	rep := progress.FromContext(ctx, progress.Tracing())
	f := frame.New()
	if *maskPath != "" {
		m, err := readMask(*maskPath, *shape, *voxel, byte(*threshold))
		if err != nil {
			return err
		}
		err = f.FitMask(m, lm, params, rep)
	} else {
		pts, err2 := readPointFile(*pointsPath)
		if err2 != nil {
			return err2
		}
		log.Printf("fitting %d points", len(pts))
		err = f.Fit(pts, lm, params, rep)
	}
	if err != nil {
		return err
	}
	if res := f.FitResult(); res != nil && len(res.Residuals) > 0 {
		log.Printf("fitted in %d iterations, mean residual %.4g, search radius %.4g",
			res.Iterations, res.Residuals[len(res.Residuals)-1], res.SearchRadius)
	} else if res != nil {
		log.Printf("no iterations run, search radius %.4g", res.SearchRadius)
	}
	if *plotPath != "" {
		if err := plotThickness(f, *plotPath); err != nil {
			return err
		}
	}
	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	snap, err := f.Snapshot()
	if err != nil {
		return err
	}
	id, err := st.Save(ctx, *group, snap, store.SaveOptions{WithCache: *withCache})
	if err != nil {
		return err
	}
	log.Printf("stored frame %s as group %q", id, *group)
	return nil
}

func readMask(path, shape, voxel string, threshold byte) (*volume.Mask, error) {
	dims, err := parseShape(shape)
	if err != nil {
		return nil, err
	}
	size, err := parseVec(voxel)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", irocs.ErrInput, err)
	}
	defer file.Close()
	return volume.ReadRaw(file, dims, size, threshold)
}

// === query =================================================================

func runQuery(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dbPath := fs.String("db", "frames.db", "path to the frame database")
	group := fs.String("group", "", "group name of the frame")
	pointsPath := fs.String("points", "", "query points, one 'x y z' per line")
	fs.Parse(args)
	if *group == "" || *pointsPath == "" {
		fs.Usage()
		return fmt.Errorf("%w: need -group and -points", irocs.ErrInput)
	}
	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	f, err := st.LoadFrame(ctx, *group)
	if err != nil {
		return err
	}
	pts, err := readPointFile(*pointsPath)
	if err != nil {
		return err
	}
	return writeCoordinates(out, f, pts)
}

// writeCoordinates prints arc length, radius, angle and surface distance per
// position.
func writeCoordinates(out io.Writer, f *frame.Frame, pts []r3.Vec) error {
	coords, err := f.ToCurvilinearBatch(pts, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "# arc_length radius angle surface_distance")
	for i, c := range coords {
		sd, err := f.SurfaceDistance(pts[i])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%.6f %.6f %.6f %.6f\n", c.ArcLength, c.Radius, c.Angle, sd)
	}
	return nil
}

// === info ==================================================================

func runInfo(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	dbPath := fs.String("db", "frames.db", "path to the frame database")
	fs.Parse(args)
	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	groups, err := st.Groups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		rec, err := st.Load(ctx, g)
		if err != nil {
			return err
		}
		s := rec.Snapshot
		fmt.Fprintf(out, "%-20s %s  degree %d, %d control points, cached %v, landmark %v\n",
			g, rec.FitID, s.Degree, len(s.Axis), s.ArcCache != nil, s.Landmark)
	}
	return nil
}
