package domain

import (
	"testing"

	"workpump/testutil"
)

// The domain layer is shared by every adapter and must not reach into the
// implementation packages.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not import internal packages")
	testutil.AssertNoTransitiveDependency(t, "workpump/pkg/domain", testutil.InternalImportForbidden, "domain must not depend on internal packages")
}
