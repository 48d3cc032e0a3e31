package store

// ScanReport exposes scanReport to the external test package.
var ScanReport = scanReport
