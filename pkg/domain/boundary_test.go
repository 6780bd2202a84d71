package domain_test

import (
	"testing"

	"taskledger/testutil"
)

func TestDomainStaysFreeOfInternalPackages(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain is imported by every layer")
}

func TestDomainHasNoStorageDrivers(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "taskledger/pkg/domain", testutil.StorageDriverImportForbidden, "backends depend on the domain, never the reverse")
}
