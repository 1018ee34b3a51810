package testdb

var schema = []string{
	`CREATE TABLE ir_module_module (
		id INTEGER PRIMARY KEY,
		name VARCHAR NOT NULL UNIQUE,
		state VARCHAR,
		latest_version VARCHAR
	)`,
	`CREATE TABLE ir_module_module_dependency (
		id INTEGER PRIMARY KEY,
		module_id INTEGER,
		name VARCHAR
	)`,
	`CREATE TABLE ir_model_data (
		id INTEGER PRIMARY KEY,
		module VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		model VARCHAR NOT NULL,
		res_id INTEGER,
		noupdate BOOLEAN DEFAULT FALSE,
		UNIQUE (module, name)
	)`,
	`CREATE TABLE ir_model_fields (
		id INTEGER PRIMARY KEY,
		model VARCHAR NOT NULL,
		name VARCHAR NOT NULL
	)`,
	`CREATE TABLE ir_translation (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		type VARCHAR,
		lang VARCHAR,
		res_id INTEGER,
		value TEXT
	)`,
	`CREATE TABLE ir_property (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		fields_id INTEGER,
		company_id INTEGER,
		res_id VARCHAR,
		value_reference VARCHAR
	)`,
	`CREATE TABLE ir_act_window (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		target VARCHAR
	)`,
	`CREATE TABLE ir_ui_view (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		type VARCHAR
	)`,
	`CREATE TABLE ir_attachment (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		res_model VARCHAR,
		res_field VARCHAR,
		res_id INTEGER,
		type VARCHAR,
		db_datas BYTEA,
		file_size INTEGER
	)`,
	`CREATE TABLE res_currency (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		symbol VARCHAR
	)`,
	`CREATE TABLE res_lang (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		code VARCHAR
	)`,
	`CREATE TABLE res_country (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		code VARCHAR
	)`,
	`CREATE TABLE res_country_state (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		code VARCHAR,
		country_id INTEGER
	)`,
	`CREATE TABLE res_partner (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		is_company BOOLEAN DEFAULT FALSE,
		commercial_partner_id INTEGER,
		parent_id INTEGER,
		type VARCHAR,
		use_parent_address BOOLEAN,
		birthdate VARCHAR,
		image BYTEA,
		active BOOLEAN DEFAULT TRUE
	)`,
	`CREATE TABLE res_users (
		id INTEGER PRIMARY KEY,
		partner_id INTEGER,
		active BOOLEAN DEFAULT TRUE,
		share BOOLEAN DEFAULT FALSE
	)`,
	`CREATE TABLE product_uom (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		category_id INTEGER,
		factor NUMERIC DEFAULT 1.0,
		rounding NUMERIC DEFAULT 0.01
	)`,
	`CREATE TABLE product_category (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		property_stock_account_input_categ INTEGER,
		property_stock_account_output_categ INTEGER
	)`,
	`CREATE TABLE product_template (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		uom_id INTEGER,
		invoice_policy VARCHAR,
		tracking VARCHAR DEFAULT 'none',
		track_all BOOLEAN,
		track_incoming BOOLEAN,
		track_outgoing BOOLEAN
	)`,
	`CREATE TABLE product_product (
		id INTEGER PRIMARY KEY,
		product_tmpl_id INTEGER
	)`,
	`CREATE TABLE stock_location (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		usage VARCHAR
	)`,
	`CREATE TABLE stock_production_lot (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		product_id INTEGER
	)`,
	`CREATE TABLE stock_quant (
		id INTEGER PRIMARY KEY,
		lot_id INTEGER,
		qty NUMERIC
	)`,
	`CREATE TABLE stock_picking_type (
		id INTEGER PRIMARY KEY,
		code VARCHAR,
		default_location_src_id INTEGER,
		default_location_dest_id INTEGER,
		use_create_lots BOOLEAN,
		use_existing_lots BOOLEAN
	)`,
	`CREATE TABLE stock_picking (
		id INTEGER PRIMARY KEY,
		state VARCHAR,
		picking_type_id INTEGER,
		location_id INTEGER,
		location_dest_id INTEGER
	)`,
	`CREATE TABLE stock_pack_operation (
		id INTEGER PRIMARY KEY,
		picking_id INTEGER,
		product_qty NUMERIC,
		qty_done NUMERIC DEFAULT 0,
		fresh_record BOOLEAN,
		openupgrade_legacy_9_0_lot_id INTEGER,
		openupgrade_legacy_9_0_processed VARCHAR,
		create_uid INTEGER,
		write_uid INTEGER,
		create_date TIMESTAMP,
		write_date TIMESTAMP
	)`,
	`CREATE TABLE stock_pack_operation_lot (
		id INTEGER PRIMARY KEY,
		lot_id INTEGER,
		operation_id INTEGER,
		qty_todo NUMERIC,
		qty NUMERIC,
		create_uid INTEGER,
		write_uid INTEGER,
		create_date TIMESTAMP,
		write_date TIMESTAMP
	)`,
	`CREATE TABLE procurement_order (
		id INTEGER PRIMARY KEY,
		sale_line_id INTEGER
	)`,
	`CREATE TABLE stock_move (
		id INTEGER PRIMARY KEY,
		procurement_id INTEGER,
		picking_id INTEGER,
		location_dest_id INTEGER,
		product_uom INTEGER,
		product_uom_qty NUMERIC,
		state VARCHAR,
		scrapped BOOLEAN DEFAULT FALSE,
		origin_returned_move_id INTEGER,
		to_refund_so BOOLEAN DEFAULT FALSE
	)`,
	`CREATE TABLE sale_order (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		state VARCHAR,
		invoice_status VARCHAR
	)`,
	`CREATE TABLE sale_order_line (
		id INTEGER PRIMARY KEY,
		order_id INTEGER,
		product_id INTEGER,
		product_uom INTEGER,
		product_uom_qty NUMERIC DEFAULT 0,
		qty_delivered NUMERIC DEFAULT 0,
		qty_invoiced NUMERIC DEFAULT 0,
		qty_to_invoice NUMERIC DEFAULT 0,
		invoice_status VARCHAR,
		state VARCHAR
	)`,
	`CREATE TABLE decimal_precision (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		digits INTEGER
	)`,
	`CREATE TABLE mrp_bom (
		id INTEGER PRIMARY KEY,
		product_id INTEGER,
		product_tmpl_id INTEGER,
		type VARCHAR,
		active BOOLEAN DEFAULT TRUE
	)`,
	`CREATE TABLE account_tax_group (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		parent_id INTEGER,
		company_id INTEGER
	)`,
	`CREATE TABLE account_tax (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		tax_group_id INTEGER
	)`,
	`CREATE TABLE account_account_tag (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		applicability VARCHAR
	)`,
	`CREATE TABLE account_tax_account_tag (
		account_tax_id INTEGER,
		account_account_tag_id INTEGER
	)`,
}
