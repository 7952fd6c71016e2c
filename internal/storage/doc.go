// Package storage provides durable persistence for fiddle documents.
//
// Two backends implement the Store interface:
//   - FS: one directory per fiddle holding the two artifacts the download
//     endpoint packages (script.json metadata and script.js source)
//   - Redis: whole documents under fiddle:<id> keys
//
// The backend is selected by STORAGE_BACKEND ("fs" or "redis").
package storage
