package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

type staticLister struct {
	distros []freebox.Distro
}

func (l *staticLister) Distros(ctx context.Context) ([]freebox.Distro, error) {
	return l.distros, nil
}

func TestShortIDDerivation(t *testing.T) {
	cases := []struct {
		name string
		os   string
		want string
	}{
		{"Fedora 41", "fedora", "fedora41"},
		{"Ubuntu 24.04 LTS", "ubuntu", "ubuntu24.04"},
		{"Debian 12 (bookworm)", "debian", "debian12"},
		{"Debian Unstable (sid)", "debian", "debian-sid"},
		{"Jeedom", "jeedom", "jeedom"},
		{"Some Rolling Thing", "mystery", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := shortID(freebox.Distro{Name: tc.name, OS: tc.os})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestListFillsMissingChecksums(t *testing.T) {
	lister := &staticLister{distros: []freebox.Distro{
		{
			Name: "Ubuntu 24.04 LTS",
			OS:   "ubuntu",
			URL:  "https://cloud-images.ubuntu.com/noble/current/noble-server-cloudimg-arm64.img",
		},
		{
			Name: "Fedora 41",
			OS:   "fedora",
			URL:  "https://example.org/pub/Fedora-Cloud-Base-Generic-41-1.4.aarch64.qcow2",
			Hash: "https://example.org/pub/provided-CHECKSUM",
		},
	}}

	entries, err := List(context.Background(), lister)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ubuntu24.04", entries[0].ShortID)
	assert.Equal(t, "https://cloud-images.ubuntu.com/noble/current/SHA256SUMS", entries[0].Hash,
		"a missing checksum is derived from the image location")
	assert.Equal(t, "https://example.org/pub/provided-CHECKSUM", entries[1].Hash,
		"a catalog-provided checksum is kept as-is")
}

func TestFind(t *testing.T) {
	entries := []Entry{{ShortID: "fedora41"}, {ShortID: "debian-sid"}}

	e, ok := Find(entries, "debian-sid")
	assert.True(t, ok)
	assert.Equal(t, "debian-sid", e.ShortID)

	_, ok = Find(entries, "gentoo")
	assert.False(t, ok)
}

func TestChecksumURL(t *testing.T) {
	cases := []struct {
		name  string
		os    string
		image string
		want  string
	}{
		{
			name:  "ubuntu sums file next to the image",
			os:    "ubuntu",
			image: "https://host/noble/current/noble-server-cloudimg-arm64.img",
			want:  "https://host/noble/current/SHA256SUMS",
		},
		{
			name:  "alt singular sums file",
			os:    "alt",
			image: "https://host/images/alt-server.img",
			want:  "https://host/images/SHA256SUM",
		},
		{
			name:  "debian sha512 sums",
			os:    "debian",
			image: "https://host/bookworm/debian-12-generic-arm64.qcow2",
			want:  "https://host/bookworm/SHA512SUMS",
		},
		{
			name:  "opensuse per-image suffix",
			os:    "opensuse",
			image: "https://host/leap/openSUSE-Leap-15.6.aarch64.qcow2",
			want:  "https://host/leap/openSUSE-Leap-15.6.aarch64.qcow2.sha256",
		},
		{
			name:  "fedora cloud image, release before arch",
			os:    "fedora",
			image: "https://host/pub/Fedora-Cloud-Base-Generic-41-1.4.aarch64.qcow2",
			want:  "https://host/pub/Fedora-Cloud-41-1.4-aarch64-CHECKSUM",
		},
		{
			name:  "fedora cloud image, arch before release",
			os:    "fedora",
			image: "https://host/pub/Fedora-Cloud-Base-Generic.aarch64-42-1.1.qcow2",
			want:  "https://host/pub/Fedora-Cloud-42-1.1-aarch64-CHECKSUM",
		},
		{
			name:  "fedora ostree installer",
			os:    "fedora",
			image: "https://host/pub/Fedora-Silverblue-ostree-aarch64-41-1.4.iso",
			want:  "https://host/pub/Fedora-Silverblue-41-1.4-aarch64-CHECKSUM",
		},
		{
			name:  "fedora unknown naming yields nothing",
			os:    "fedora",
			image: "https://host/pub/Fedora-Workstation-Live-x86_64-41.iso",
			want:  "",
		},
		{
			name:  "rocky publishes an unusable format",
			os:    "rocky",
			image: "https://host/rocky/Rocky-9-GenericCloud.aarch64.qcow2",
			want:  "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ChecksumURL(tc.os, tc.image))
		})
	}
}
