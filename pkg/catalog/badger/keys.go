package badger

// Database Key Namespace Design
// ==============================
//
// Records are stored under a single prefixed key space:
//
// Data Type     Prefix   Key Format                 Value Type
// ============================================================
// Object        "o:"     o:<namespace>/<name>       catalog.Record (XDR)
//
// Listing a namespace is a range scan over "o:<namespace>/" (optionally
// extended by the name prefix). Names may contain '/' because objects live
// in a directory tree below the namespace; the namespace itself is the
// first path component after the prefix.

const prefixObject = "o:"

// keyObject returns the key for namespace/name.
func keyObject(namespace, name string) []byte {
	return []byte(prefixObject + namespace + "/" + name)
}

// keyObjectScan returns the scan prefix for names in namespace starting
// with prefix.
func keyObjectScan(namespace, prefix string) []byte {
	return []byte(prefixObject + namespace + "/" + prefix)
}
