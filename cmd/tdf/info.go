// info.go -- print a container's manifest summary
//
// (c) 2016 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"fmt"
	"os"

	flag "github.com/opencoff/pflag"
	"github.com/opencoff/tdf"
)

func info(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Printf(`%s info: Print a container's manifest summary.

Usage: %s info file [file...]

Options:
`, Z, Z)
		fs.PrintDefaults()
		os.Exit(0)
	}

	var raw bool
	fs.BoolVarP(&raw, "json", "j", false, "Print the raw manifest JSON")

	err := fs.Parse(args)
	if err != nil {
		Die("%s", err)
	}

	args = fs.Args()
	if len(args) < 1 {
		Die("Insufficient args. Try '%s info -h'", Z)
	}

	for _, fn := range args {
		if err := printInfo(fn, raw); err != nil {
			Die("%s: %s", fn, err)
		}
	}
}

func printInfo(fn string, raw bool) error {
	m, err := tdf.InspectFile(fn)
	if err != nil {
		return err
	}

	if raw {
		b, err := m.ToJSON()
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", b)
		return nil
	}

	ei := &m.EncryptionInformation
	ii := &ei.IntegrityInformation

	fmt.Printf("%s:\n", fn)
	fmt.Printf("  mime type:     %s\n", m.Payload.MimeType)
	fmt.Printf("  cipher:        %s\n", ei.Method.Algorithm)
	fmt.Printf("  segment hash:  %s\n", ii.SegmentHashAlg)
	fmt.Printf("  segments:      %d x %d bytes (default)\n", len(ii.Segments), ii.SegmentSizeDefault)

	if p, err := tdf.PolicyFromBase64(ei.Policy); err == nil {
		fmt.Printf("  policy uuid:   %s\n", p.UUID)
		for _, a := range p.Body.DataAttributes {
			fmt.Printf("  attribute:     %s\n", a.Attribute)
		}
		for _, d := range p.Body.Dissem {
			fmt.Printf("  dissem:        %s\n", d)
		}
	}

	for _, ka := range ei.KeyAccess {
		fmt.Printf("  kas:           %s (%s)\n", ka.URL, ka.Type)
	}
	return nil
}
