// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RangeCheck pairs a commitment with its proof for batch verification.
type RangeCheck struct {
	Commitment Commitment
	Proof      []byte
}

// workers returns the goroutine limit for n jobs.
func workers(n int) int {
	w := runtime.NumCPU()
	if n < w {
		w = n
	}
	if w < 1 {
		w = 1
	}

	return w
}

// ProveRanges creates one proof per params entry, in parallel. The result is
// ordered like params. The first failure cancels the remaining work.
func ProveRanges(ctx context.Context, prov Provider,
	params []*ProveParams) ([][]byte, error) {

	proofs := make([][]byte, len(params))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers(len(params)))
	for i, p := range params {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			proof, err := prov.ProveRange(p)
			if err != nil {
				return fmt.Errorf("output %d: %w", i, err)
			}
			proofs[i] = proof

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return proofs, nil
}

// VerifyRanges verifies every check in parallel.
func VerifyRanges(ctx context.Context, prov Provider,
	checks []RangeCheck) error {

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers(len(checks)))
	for i, check := range checks {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			_, _, err := prov.VerifyRange(
				check.Commitment, check.Proof,
			)
			if err != nil {
				return fmt.Errorf("output %d: %w", i, err)
			}

			return nil
		})
	}

	return eg.Wait()
}
