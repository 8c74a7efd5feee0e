package assets

import _ "embed"

// Embedded beacon client, compiled into the binary at build time.

//go:embed botgate.js
var BeaconJS []byte
