// Package fileinfo extracts identity hints from MEG/BIDS filenames.
//
// Extract walks an ordered list of matchers, most specific first: BIDS
// entities, NatMEG acquisition names, a looser sub-/NatMEG prefix and finally
// the first run of two or more digits. Names that match nothing get
// participant "unknown". Extraction never fails and never panics.
package fileinfo
