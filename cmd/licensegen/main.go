// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command licensegen issues and validates signed licenses from the
// command line: generating Ed25519 keypairs, issuing single licenses
// or a batch from a YAML manifest, and validating a license file
// against a public key.
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/musterhub/corehub/internal/clock"
	"github.com/musterhub/corehub/license"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	var err error
	switch args[0] {
	case "generate-keys":
		err = runGenerateKeys(args[1:])
	case "issue":
		err = runIssue(args[1:])
	case "batch":
		err = runBatch(args[1:])
	case "validate":
		err = runValidate(args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensegen: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: licensegen <command> [flags]

commands:
  generate-keys              print a new Ed25519 keypair (hex-encoded)
  issue       -key, -customer, -days, ...   issue one license
  batch       -key, -manifest               issue every entry in a YAML manifest
  validate    -pub, -license                validate a signed license file`)
}

func runGenerateKeys(args []string) error {
	fs := flag.NewFlagSet("generate-keys", flag.ExitOnError)
	fs.Parse(args)
	pub, priv := license.GenerateKeypair()
	fmt.Printf("public:  %s\n", hex.EncodeToString(pub))
	fmt.Printf("private: %s\n", hex.EncodeToString(priv))
	return nil
}

func runIssue(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex-encoded Ed25519 private key")
	customer := fs.String("customer", "", "customer name")
	alias := fs.String("alias", "", "customer alias")
	days := fs.Int64("days", 365, "validity window in days")
	features := fs.String("features", "", "comma-separated feature slugs")
	anyMachine := fs.Bool("any-machine", true, "allow any machine (no hardware lock)")
	machineIDs := fs.String("machine-ids", "", "comma-separated compound machine ids (Threshold constraint)")
	minMatches := fs.Uint("min-matches", 2, "minimum matching hardware components for a Threshold constraint")
	out := fs.String("out", "", "output file (defaults to stdout)")
	fs.Parse(args)

	priv, err := parsePrivateKey(*keyHex)
	if err != nil {
		return err
	}
	constraint := license.AnyMachine()
	if !*anyMachine {
		constraint = license.Threshold(splitNonEmpty(*machineIDs), uint16(*minMatches))
	}
	cfg := license.IssueConfig{
		Customer:   *customer,
		Alias:      *alias,
		Constraint: constraint,
		Days:       *days,
		Features:   splitNonEmpty(*features),
	}
	sl, unknown, err := license.Issue(priv, cfg, clock.System{})
	if err != nil {
		return err
	}
	for _, u := range unknown {
		fmt.Fprintf(os.Stderr, "licensegen: warning: unknown feature slug %q\n", u)
	}
	return writeLicense(sl, *out)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	pubHex := fs.String("pub", "", "hex-encoded Ed25519 public key")
	path := fs.String("license", "", "path to a license file (JSON)")
	fs.Parse(args)

	pubBytes, err := hex.DecodeString(*pubHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid -pub: %w", err)
	}
	buf, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	sl, err := license.FromJSON(buf)
	if err != nil {
		return err
	}
	if err := license.NewValidator(ed25519.PublicKey(pubBytes)).Validate(sl); err != nil {
		return err
	}
	fmt.Printf("valid: customer=%q features=%v expires=%d\n", sl.Data.Customer, sl.Data.Features.Slugs(), sl.Data.Expires)
	return nil
}

func parsePrivateKey(keyHex string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(keyHex)
	if err != nil || len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid -key: expected a hex-encoded %d-byte Ed25519 private key", ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

func writeLicense(sl license.SignedLicense, out string) error {
	buf, err := license.ToJSON(sl)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	if out == "" {
		_, err = os.Stdout.Write(buf)
		return err
	}
	return os.WriteFile(out, buf, 0o644)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
