package fleet

import "fmt"

// FleetRequest describes one fleet-creation invocation: which guest
// variants to provision, how many of each, and the per-VM resources.
type FleetRequest struct {
	Specs        []VMSpec
	CountPerSpec int
	NamePrefix   string
	MemoryMB     int
	VCPUs        int
	DiskGB       int
}

// Instance is a single requested VM within a fleet. The hypervisor and
// filesystem own the real resources once provisioning succeeds; Instance
// only carries the identity needed to create or find them.
type Instance struct {
	Name  string
	Spec  VMSpec
	Index int
}

// InstanceName derives the deterministic domain name for one instance.
// Format: <prefix>-<distribution>-<version>-<index>
//
// Example: prefix "t", fedora:42, index 1 → "t-fedora-42-1"
func InstanceName(prefix string, spec VMSpec, index int) string {
	return fmt.Sprintf("%s-%s-%s-%d", prefix, spec.Distribution, spec.Version, index)
}

// Instances expands the request into the flat ordered instance list used
// for both creation order and the persisted manifest: spec order outermost,
// index 1..CountPerSpec within each spec.
func (r FleetRequest) Instances() []Instance {
	instances := make([]Instance, 0, len(r.Specs)*r.CountPerSpec)
	for _, spec := range r.Specs {
		for i := 1; i <= r.CountPerSpec; i++ {
			instances = append(instances, Instance{
				Name:  InstanceName(r.NamePrefix, spec, i),
				Spec:  spec,
				Index: i,
			})
		}
	}
	return instances
}

// NaturalLess orders strings with embedded integers compared numerically,
// so "t-fedora-42-10" sorts after "t-fedora-42-9". Used when listing
// domains, whose names come back from the hypervisor in arbitrary order.
func NaturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit := isDigit(a[0])
		bDigit := isDigit(b[0])

		switch {
		case aDigit && bDigit:
			aNum, aRest := takeNumber(a)
			bNum, bRest := takeNumber(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
		case aDigit != bDigit:
			return a[0] < b[0]
		default:
			if a[0] != b[0] {
				return a[0] < b[0]
			}
			a, b = a[1:], b[1:]
		}
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// takeNumber consumes the leading digit run of s and returns its value and
// the remainder. Values are capped well above any realistic index.
func takeNumber(s string) (uint64, string) {
	var n uint64
	i := 0
	for i < len(s) && isDigit(s[i]) {
		if n < 1<<56 {
			n = n*10 + uint64(s[i]-'0')
		}
		i++
	}
	return n, s[i:]
}
