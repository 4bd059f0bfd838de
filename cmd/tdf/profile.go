// profile.go -- client profile handling
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
	"os"

	"github.com/opencoff/tdf"
	"gopkg.in/yaml.v2"
)

// profile is the yaml client profile naming KAS endpoints and
// credentials, e.g.:
//
//	client_id: alice
//	token: ...bearer token...
//	dpop: true
//	signing_key: session.key
//	kas:
//	  - url: https://kas.example.com
//	    public_key: kas.pub
type profile struct {
	ClientID   string `yaml:"client_id"`
	Token      string `yaml:"token"`
	DPoP       bool   `yaml:"dpop"`
	SigningKey string `yaml:"signing_key"`

	Kas []kasEntry `yaml:"kas"`
}

type kasEntry struct {
	URL       string `yaml:"url"`
	PublicKey string `yaml:"public_key"`
	KID       string `yaml:"kid"`
	Remote    bool   `yaml:"remote"`
}

// readProfile loads and parses a yaml profile.
func readProfile(fn string) (*profile, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}

	var p profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// targets turns the profile's KAS list into encrypt targets, reading
// inline public key files where named.
func (p *profile) targets() ([]tdf.KasTarget, error) {
	out := make([]tdf.KasTarget, 0, len(p.Kas))
	for _, k := range p.Kas {
		t := tdf.KasTarget{
			URL:    k.URL,
			KID:    k.KID,
			Remote: k.Remote,
		}

		if k.PublicKey != "" {
			b, err := os.ReadFile(k.PublicKey)
			if err != nil {
				return nil, err
			}
			t.PublicKeyPEM = string(b)
		}

		out = append(out, t)
	}
	return out, nil
}

// newClient makes a TDF client from a profile, loading the session
// key if one is named.
func (p *profile) newClient(nopw bool, envpw string) (*tdf.Client, error) {
	cc := tdf.ClientConfig{
		ClientID: p.ClientID,
		Auth: &tdf.BearerAuth{
			Token: p.Token,
			DPoP:  p.DPoP,
		},
	}

	if p.SigningKey != "" {
		b, err := os.ReadFile(p.SigningKey)
		if err != nil {
			return nil, err
		}

		sk, err := tdf.ParseSigningKey(b, maybeGetPw(nopw, envpw, false))
		if err != nil {
			return nil, err
		}
		cc.SigningKey = sk
	}

	return tdf.NewClient(cc)
}
