package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"wptspec/internal/logging"
)

// maxDecoders bounds concurrent file decoding during Import.
const maxDecoders = 4

// Decode reads runs from r. It accepts a JSON array of runs or a single run
// object.
func Decode(r io.Reader) ([]TestRun, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var many []TestRun
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one TestRun
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("not a test run or list of test runs: %w", err)
	}
	return []TestRun{one}, nil
}

// DecodeFile reads runs from a JSON file.
func DecodeFile(path string) ([]TestRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	runs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return runs, nil
}

// Import decodes the given files concurrently and stores their runs in file
// order, in a single transaction. Nothing is stored if any file fails to
// decode or holds an invalid run. It returns the number of runs stored.
func Import(ctx context.Context, store *Store, paths ...string) (int, error) {
	decoded := make([][]TestRun, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDecoders)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runs, err := DecodeFile(path)
			if err != nil {
				return err
			}
			decoded[i] = runs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var all []TestRun
	for i, runs := range decoded {
		for j := range runs {
			if err := validate(&runs[j]); err != nil {
				return 0, fmt.Errorf("%s: run %d: %w", paths[i], j, err)
			}
		}
		all = append(all, runs...)
	}
	if err := store.PutAll(ctx, all); err != nil {
		return 0, err
	}
	logging.Store("imported %d runs from %d files", len(all), len(paths))
	return len(all), nil
}
