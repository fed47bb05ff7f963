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

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/musterhub/corehub/internal/clock"
	"github.com/musterhub/corehub/license"
)

// manifestEntry is one license to issue from a batch manifest.
type manifestEntry struct {
	Customer   string   `json:"customer"`
	Alias      string   `json:"alias"`
	Days       int64    `json:"days"`
	Features   []string `json:"features"`
	AnyMachine bool     `json:"anyMachine"`
	MachineIDs []string `json:"machineIds"`
	MinMatches uint16   `json:"minMatches"`
}

type manifest struct {
	Licenses []manifestEntry `json:"licenses"`
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex-encoded Ed25519 private key")
	manifestPath := fs.String("manifest", "", "path to a YAML batch manifest")
	outDir := fs.String("out-dir", ".", "directory to write one JSON license file per entry")
	fs.Parse(args)

	priv, err := parsePrivateKey(*keyHex)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		return err
	}
	var m manifest
	if err := yaml.UnmarshalStrict(raw, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	for i, e := range m.Licenses {
		constraint := license.AnyMachine()
		if !e.AnyMachine {
			constraint = license.Threshold(e.MachineIDs, e.MinMatches)
		}
		sl, unknown, err := license.Issue(priv, license.IssueConfig{
			Customer:   e.Customer,
			Alias:      e.Alias,
			Constraint: constraint,
			Days:       e.Days,
			Features:   e.Features,
		}, clock.System{})
		if err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Customer, err)
		}
		for _, u := range unknown {
			fmt.Fprintf(os.Stderr, "licensegen: warning: entry %d (%s): unknown feature slug %q\n", i, e.Customer, u)
		}
		dest := filepath.Join(*outDir, sanitizeFilename(e.Customer)+".json")
		if err := writeLicense(sl, dest); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		fmt.Printf("issued %s -> %s\n", e.Customer, dest)
	}
	return nil
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "license"
	}
	return string(out)
}
