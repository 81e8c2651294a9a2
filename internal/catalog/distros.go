// Package catalog wraps the Freebox distribution catalog: short-id
// derivation for the command line and checksum URL discovery per
// distribution family.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

// Entry is one installable distribution with its derived short-id.
type Entry struct {
	Name    string
	ShortID string
	OS      string
	URL     string
	Hash    string
}

// Lister is the catalog slice of the control API.
type Lister interface {
	Distros(ctx context.Context) ([]freebox.Distro, error)
}

var releaseRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// List fetches the device catalog and derives a short-id per entry, e.g.
// "fedora41" or "debian-sid". Entries without a checksum get one derived from
// the image URL when the distribution family publishes one.
func List(ctx context.Context, api Lister) ([]Entry, error) {
	distros, err := api.Distros(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(distros))
	for _, d := range distros {
		e := Entry{Name: d.Name, OS: d.OS, URL: d.URL, Hash: d.Hash, ShortID: shortID(d)}
		if e.Hash == "" {
			e.Hash = ChecksumURL(e.OS, e.URL)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Find returns the catalog entry with the given short-id.
func Find(entries []Entry, shortID string) (Entry, bool) {
	for _, e := range entries {
		if e.ShortID == shortID {
			return e, true
		}
	}
	return Entry{}, false
}

// shortID derives a selector from the catalog name: OS plus the first release
// number, with two catalog oddities special-cased.
func shortID(d freebox.Distro) string {
	if m := releaseRe.FindString(d.Name); m != "" {
		return d.OS + m
	}
	if d.OS == "jeedom" {
		return "jeedom"
	}
	if d.Name == "Debian Unstable (sid)" {
		return "debian-sid"
	}
	return ""
}

var fedoraCloudRe = []*regexp.Regexp{
	regexp.MustCompile(`.*-(\d+)-([\d.]+)\.aarch64\.qcow2$`),
	regexp.MustCompile(`.*\.aarch64-(\d+)-([\d.]+)\.qcow2$`),
}
var fedoraOstreeRe = regexp.MustCompile(`^Fedora-(\w+)-ostree-aarch64-(\d+)-([\d.]+)\.iso$`)

// ChecksumURL returns the checksum file URL published next to an image, or ""
// when the distribution family has no layout the Freebox download manager
// understands (almalinux/centos/rocky publish a CHECKSUM format it rejects).
func ChecksumURL(osName, imageURL string) string {
	base := imageURL
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i+1]
	}

	switch osName {
	case "ubuntu":
		return base + "SHA256SUMS"
	case "alt":
		return base + "SHA256SUM"
	case "debian":
		return base + "SHA512SUMS"
	case "opensuse":
		return imageURL + ".sha256"
	case "fedora":
		u, err := url.Parse(imageURL)
		if err != nil {
			return ""
		}
		name := path.Base(u.Path)
		for _, re := range fedoraCloudRe {
			if m := re.FindStringSubmatch(name); m != nil {
				return base + fmt.Sprintf("Fedora-Cloud-%s-%s-aarch64-CHECKSUM", m[1], m[2])
			}
		}
		if m := fedoraOstreeRe.FindStringSubmatch(name); m != nil {
			return base + fmt.Sprintf("Fedora-%s-%s-%s-aarch64-CHECKSUM", m[1], m[2], m[3])
		}
		return ""
	default:
		return ""
	}
}

// Check verifies that the image URL, and its checksum URL when present,
// answer HTTP 200.
func Check(ctx context.Context, imageURL, hashURL string) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	if !headOK(ctx, client, imageURL) {
		return false
	}
	if hashURL == "" {
		return true
	}
	return headOK(ctx, client, hashURL)
}

func headOK(ctx context.Context, client *http.Client, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	res, err := client.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	return res.StatusCode == http.StatusOK
}
