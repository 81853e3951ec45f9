package image

import (
	"fmt"
	"regexp"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// debianCodenames maps Debian release numbers to the codenames used in
// upstream cloud image URLs.
var debianCodenames = map[string]string{
	"10": "buster",
	"11": "bullseye",
	"12": "bookworm",
	"13": "trixie",
}

// ubuntuCodenames maps Ubuntu release numbers to the codenames used on
// cloud-images.ubuntu.com.
var ubuntuCodenames = map[string]string{
	"20.04": "focal",
	"22.04": "jammy",
	"24.04": "noble",
	"24.10": "oracular",
	"25.04": "plucky",
}

// fedoraBuildSuffixes are the compose respins historically published for
// Fedora cloud images, probed individually when the release listing cannot
// be scraped.
var fedoraBuildSuffixes = []string{"1.1", "1.2", "1.3", "1.4", "1.5", "1.6"}

// upstreamCandidates returns where to look for the base image of spec: an
// optional directory listing to scrape for an exact filename, and direct
// URLs to probe in preference order. An error means the distribution has no
// anonymously downloadable upstream for that version.
func upstreamCandidates(spec fleet.VMSpec) (listingURL string, direct []string, err error) {
	v := spec.Version

	switch spec.Distribution {
	case fleet.DistributionFedora:
		base := fmt.Sprintf("https://download.fedoraproject.org/pub/fedora/linux/releases/%s/Cloud/x86_64/images/", v)
		listingURL = base
		// Fedora 40 renamed the cloud artifact to -Generic-; probe both forms.
		for _, suffix := range fedoraBuildSuffixes {
			direct = append(direct, base+fmt.Sprintf("Fedora-Cloud-Base-Generic-%s-%s.x86_64.qcow2", v, suffix))
		}
		for _, suffix := range fedoraBuildSuffixes {
			direct = append(direct, base+fmt.Sprintf("Fedora-Cloud-Base-%s-%s.x86_64.qcow2", v, suffix))
		}
		return listingURL, direct, nil

	case fleet.DistributionDebian:
		codename, ok := debianCodenames[v]
		if !ok {
			return "", nil, fmt.Errorf("no known codename for debian %s (known releases: 10-13)", v)
		}
		direct = []string{
			fmt.Sprintf("https://cloud.debian.org/images/cloud/%s/latest/debian-%s-genericcloud-amd64.qcow2", codename, v),
		}
		return "", direct, nil

	case fleet.DistributionUbuntu:
		direct = []string{
			fmt.Sprintf("https://cloud-images.ubuntu.com/releases/%s/release/ubuntu-%s-server-cloudimg-amd64.img", v, v),
		}
		if codename, ok := ubuntuCodenames[v]; ok {
			direct = append(direct,
				fmt.Sprintf("https://cloud-images.ubuntu.com/%s/current/%s-server-cloudimg-amd64.img", codename, codename))
		}
		return "", direct, nil

	case fleet.DistributionCentOS:
		direct = []string{
			fmt.Sprintf("https://cloud.centos.org/centos/%s-stream/x86_64/images/CentOS-Stream-GenericCloud-%s-latest.x86_64.qcow2", v, v),
			fmt.Sprintf("https://cloud.centos.org/centos/%s/images/CentOS-%s-x86_64-GenericCloud.qcow2", v, v),
		}
		return "", direct, nil

	case fleet.DistributionRHEL:
		return "", nil, fmt.Errorf("rhel images require a Red Hat subscription and cannot be downloaded anonymously")

	default:
		return "", nil, fmt.Errorf("no upstream source known for distribution %q", spec.Distribution)
	}
}

// fedoraListingPattern matches cloud image hrefs in the Fedora release
// directory listing.
var fedoraListingPattern = regexp.MustCompile(`href="(Fedora-Cloud-Base[^"]*\.qcow2)"`)

// parseFedoraListing extracts the first cloud-base qcow2 filename from a
// Fedora release directory listing page. Returns "" when none is present.
func parseFedoraListing(body []byte) string {
	m := fedoraListingPattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}
