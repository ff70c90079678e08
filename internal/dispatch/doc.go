// Package dispatch turns push frames into cache writes.
//
// Only "printer_update" frames with a printer_id are applied. A numeric
// percentage updates the percentage entry, a status object updates both the
// status and its phase projection, and tray_type follows the overwrite rule
// in printer.ShouldWriteTray. Anything else is dropped and counted.
package dispatch
