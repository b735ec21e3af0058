// Package hitio reads and writes the on-disk formats of a run directory.
//
// Formats:
//   - hits.bin: 16-byte little-endian records (u16 col, u16 row, u64 toa,
//     u32 tot), one per hit, in ToA order.
//   - triggers.csv: header "event,time", time in nanoseconds.
//   - <name>.bin: events (clusters or trigger windows), each a run of hit
//     records closed by one all-zero record.
//   - <name>.csv: one metadata row per event,
//     "event,time,duration,hits,sum_tot,offset".
//   - <name>.toml: the settings the output was produced with.
//
// The readers implement timepix.HitSource and timepix.TriggerSource so
// they feed the engines directly.
package hitio
