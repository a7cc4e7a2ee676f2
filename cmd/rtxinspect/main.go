// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/dmuralov/particl-core/wallet"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// errNoKeys is returned by the key store of the inspector, which holds no
// keys.
var errNoKeys = errors.New("rtxinspect holds no keys")

// noKeys is a KeyStore without keys. Reports only read what the stores
// recorded, so nothing is ever derived. Every credit of the plain-only store
// is taken as the wallet's.
type noKeys struct{}

func (noKeys) NewChangeKey() (*wallet.KeyDescriptor, error) {
	return nil, errNoKeys
}

func (noKeys) LookupScript([]byte) (*wallet.KeyDescriptor, bool) {
	return &wallet.KeyDescriptor{}, true
}

func (noKeys) LookupPubKey([33]byte) (*wallet.KeyDescriptor, bool) {
	return nil, false
}

func (noKeys) PrivKey([]byte) (*btcec.PrivateKey, error) {
	return nil, errNoKeys
}

func (noKeys) StealthAddresses() []*wallet.StealthKeys { return nil }

func (noKeys) ImportKey(*wallet.KeyDescriptor, *btcec.PrivateKey) error {
	return errNoKeys
}

// fixedTip reports the height given on the command line as the chain tip.
type fixedTip int32

func (t fixedTip) BestBlock(context.Context) (int32, chainhash.Hash, error) {
	return int32(t), chainhash.Hash{}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	ctx := context.Background()

	db, err := walletdb.Open(
		"bdb", cfg.dbPath(), true, cfg.DBTimeout, false,
	)
	if err != nil {
		return fmt.Errorf("open wallet database: %w", err)
	}
	defer db.Close()

	index, closeIndex, err := openAnonIndex(cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	wcfg := wallet.DefaultConfig()
	wcfg.DB = db
	wcfg.ChainParams = cfg.params
	wcfg.Keys = noKeys{}
	wcfg.AnonIndex = index
	wcfg.Chain = fixedTip(cfg.TipHeight)

	w, err := wallet.New(wcfg)
	if err != nil {
		return err
	}

	log.Debugf("Running %s on %s", cfg.Command, cfg.dbPath())

	out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer out.Flush()

	switch cfg.Command {
	case "records":
		return printRecords(ctx, out, w, cfg)

	case "unspent":
		kind, _ := parseKind(cfg.Kind)
		return printUnspent(ctx, out, w, kind)

	case "balances":
		return printBalances(ctx, out, w)

	case "anonstats":
		sqlIndex, ok := index.(*wallet.SQLAnonIndex)
		if !ok {
			return errors.New("anonstats needs --anonindex.dsn")
		}

		return printAnonStats(ctx, out, sqlIndex)
	}

	return fmt.Errorf("%w %q", errUnknownCommand, cfg.Command)
}

// openAnonIndex opens the configured SQL index, or an empty in-memory one
// when no data source is given.
func openAnonIndex(cfg *config) (wallet.AnonIndex, func(), error) {
	if cfg.AnonIndex.DSN == "" {
		return wallet.NewMemAnonIndex(), func() {}, nil
	}

	driver := wallet.AnonIndexDriver(cfg.AnonIndex.Driver)
	sqlDriver := "sqlite"
	if driver == wallet.AnonIndexPostgres {
		sqlDriver = "pgx"
	}

	conn, err := sql.Open(sqlDriver, cfg.AnonIndex.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open anon index: %w", err)
	}

	index, err := wallet.OpenSQLAnonIndex(driver, conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return index, func() { conn.Close() }, nil
}

func printRecords(ctx context.Context, out io.Writer, w *wallet.Wallet,
	cfg *config) error {

	details, err := w.ListTxns(ctx, cfg.StartHeight, cfg.EndHeight)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "HASH\tHEIGHT\tCONF\tVALUE\tFEE\tFLAGS\tSTORE")
	for _, d := range details {
		height := int32(-1)
		if d.Block != nil {
			height = d.Block.Height
		}

		store := "ledger"
		if d.Legacy {
			store = "plain"
		}
		flags := d.Flags.String()
		switch {
		case d.Abandoned:
			flags += ",abandoned"

		case d.Conflicted:
			flags += ",conflicted"
		}

		fmt.Fprintf(out, "%v\t%d\t%d\t%v\t%v\t%s\t%s\n", d.Hash,
			height, d.Confirmations, d.Value, d.Fee, flags, store)

		for _, o := range d.Outputs {
			if !o.IsOurs {
				continue
			}
			fmt.Fprintf(out, "  :%d\t%v\t\t%v\t\t%v\t%q\n", o.Index,
				o.Kind, o.Amount, o.Flags, o.Narration)
		}
	}

	return nil
}

func printUnspent(ctx context.Context, out io.Writer, w *wallet.Wallet,
	kind wallet.OutputKind) error {

	coins, err := w.ListUnspent(ctx, kind, nil)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "OUTPOINT\tKIND\tVALUE\tHEIGHT\tFLAGS")
	for _, c := range coins {
		fmt.Fprintf(out, "%v\t%v\t%v\t%d\t%v\n", c.OutPoint, c.Kind,
			c.Value, c.Height, c.Flags)
	}

	return nil
}

func printBalances(ctx context.Context, out io.Writer,
	w *wallet.Wallet) error {

	bals, err := w.Balances(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "KIND\tTRUSTED\tPENDING\tIMMATURE\tWATCHONLY")
	for _, kind := range []wallet.OutputKind{
		wallet.KindPlain, wallet.KindBlinded, wallet.KindAnon,
	} {

		b := bals.Of(kind)
		fmt.Fprintf(out, "%v\t%v\t%v\t%v\t%v\n", kind, b.Trusted,
			b.UntrustedPending, b.Immature, b.WatchOnly)
	}

	return nil
}

func printAnonStats(ctx context.Context, out io.Writer,
	index *wallet.SQLAnonIndex) error {

	stats, err := index.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "OUTPUTS\tBLACKLISTED\tMAXHEIGHT")
	fmt.Fprintf(out, "%d\t%d\t%d\n", stats.Count, stats.Blacklisted,
		stats.MaxHeight)

	return nil
}
