// Package conv provides checked integer narrowing for settings that arrive as
// plain ints (TOML, flags) but are stored in fixed-width fields.
//
// For conversions that are provably safe by domain constraints (node ids
// bounded by the arena capacity, loop indices), use direct casts instead.
package conv
