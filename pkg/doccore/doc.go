// Package doccore implements the operations spec.md §6 describes as
// what the HTTP routing surface (out of core scope) consumes from the
// core: create_doc, doc_exists, get_or_create_doc, as_update,
// apply_update, open_connection, presign_upload_asset, list_assets,
// copy_document, delete_document. It wires docstore, registry,
// docstate, and docconn together the way the teacher's pkg/manager
// wires storage, raft, and its domain packages behind one facade type.
package doccore
