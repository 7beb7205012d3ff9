package barrel

// index maps each live key to the locator of its most recent value.
// Both implementations exclude tombstones: Delete removes the key
// outright rather than storing a marker.
//
// Keys passed in belong to the caller; implementations copy what they
// retain.
type index interface {
	// get returns the current locator for key, if any.
	get(key []byte) (locator, bool)

	// put installs loc as key's current location, replacing any prior one.
	put(key []byte, loc locator)

	// delete removes key's entry, if present.
	delete(key []byte)

	// ascend calls fn once per live key in ascending byte order,
	// stopping early if fn returns false.
	ascend(fn func(key []byte, loc locator) bool)

	// len reports the number of live keys.
	len() int
}
