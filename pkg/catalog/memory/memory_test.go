package memory

import (
	"testing"

	"github.com/konradgithuup/io-backends/pkg/catalog"
	cattest "github.com/konradgithuup/io-backends/pkg/catalog/testing"
)

func TestMemoryCatalog(t *testing.T) {
	suite := &cattest.CatalogTestSuite{
		NewCatalog: func(t *testing.T) catalog.Catalog {
			return NewMemoryCatalog()
		},
	}
	suite.Run(t)
}
