package sandbox

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/pkg/errors"
	progress "github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Pusher pushes an assembled image to a registry, reporting progress the
// way the teacher's OCI pusher does.
type Pusher struct {
	Insecure bool
	Token    string
	Username string
	Password string

	updates chan v1.Update
	done    chan bool
}

func NewPusher(insecure bool) *Pusher {
	return &Pusher{
		Insecure: insecure,
		updates:  make(chan v1.Update, 10),
		done:     make(chan bool, 1),
	}
}

// Push writes img to tagRef, returning its digest.
func (p *Pusher) Push(ctx context.Context, img v1.Image, tagRef string) (digest string, err error) {
	go p.handleUpdates(ctx)
	defer func() { p.done <- true }()

	var opts []name.Option
	if p.Insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.ParseReference(tagRef, opts...)
	if err != nil {
		return "", errors.Wrapf(err, "sandbox: parse tag %q", tagRef)
	}

	oo := []remote.Option{
		remote.WithContext(ctx),
		remote.WithProgress(p.updates),
		p.authOption(),
	}
	if p.Insecure {
		t := remote.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		oo = append(oo, remote.WithTransport(t))
	}

	if err := remote.Write(ref, img, oo...); err != nil {
		return "", errors.Wrapf(err, "sandbox: push %s", tagRef)
	}
	h, err := img.Digest()
	if err != nil {
		return "", errors.Wrap(err, "sandbox: digest")
	}
	return h.String(), nil
}

// authOption mirrors the teacher pusher's precedence: token, then
// username/password, else the default+Google keychain chain.
func (p *Pusher) authOption() remote.Option {
	if p.Token != "" {
		return remote.WithAuth(&authn.Bearer{Token: p.Token})
	}
	if p.Username != "" {
		return remote.WithAuth(&authn.Basic{Username: p.Username, Password: p.Password})
	}
	return remote.WithAuthFromKeychain(authn.NewMultiKeychain(authn.DefaultKeychain, google.Keychain))
}

func (p *Pusher) handleUpdates(ctx context.Context) {
	var bar *progress.ProgressBar
	for {
		select {
		case update := <-p.updates:
			if bar == nil {
				bar = progress.NewOptions64(update.Total,
					progress.OptionSetVisibility(term.IsTerminal(int(os.Stdin.Fd()))),
					progress.OptionSetDescription("pushing"),
					progress.OptionShowCount(),
					progress.OptionShowBytes(true),
					progress.OptionShowElapsedTimeOnFinish())
			}
			_ = bar.Set64(update.Complete)
		case <-p.done:
			if bar != nil {
				_ = bar.Finish()
			}
			return
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Finish()
			}
			return
		}
	}
}
