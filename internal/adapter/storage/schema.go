package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		category_id   INT AUTO_INCREMENT PRIMARY KEY,
		category_name VARCHAR(50) NOT NULL,
		display_order INT NOT NULL DEFAULT 0,
		created_at    DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at    DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS menus (
		menu_id        INT AUTO_INCREMENT PRIMARY KEY,
		category_id    INT NOT NULL,
		menu_name      VARCHAR(100) NOT NULL,
		description    VARCHAR(500) NULL,
		price          DECIMAL(10,2) NOT NULL,
		image_url      VARCHAR(255) NULL,
		is_available   TINYINT(1) NOT NULL DEFAULT 1,
		is_best_seller TINYINT(1) NOT NULL DEFAULT 0,
		stock_quantity INT NULL,
		created_at     DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at     DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		CONSTRAINT fk_menus_category FOREIGN KEY (category_id) REFERENCES categories (category_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS store_tables (
		table_id           INT PRIMARY KEY,
		is_occupied        TINYINT(1) NOT NULL DEFAULT 0,
		session_started_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		created_at         DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at         DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS orders (
		order_id       INT AUTO_INCREMENT PRIMARY KEY,
		table_id       INT NOT NULL,
		depositor_name VARCHAR(50) NOT NULL,
		total_amount   DECIMAL(10,2) NOT NULL DEFAULT 0,
		order_status   ENUM('AWAITING_PAYMENT','PAYMENT_CONFIRMED','COMPLETED','CANCELLED') NOT NULL DEFAULT 'AWAITING_PAYMENT',
		created_at     DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at     DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		CONSTRAINT fk_orders_table FOREIGN KEY (table_id) REFERENCES store_tables (table_id),
		INDEX idx_orders_table_created (table_id, created_at),
		INDEX idx_orders_status_id (order_status, order_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS order_details (
		order_detail_id INT AUTO_INCREMENT PRIMARY KEY,
		order_id        INT NOT NULL,
		menu_id         INT NOT NULL,
		quantity        INT NOT NULL,
		unit_price      DECIMAL(10,2) NOT NULL,
		subtotal        DECIMAL(10,2) NOT NULL,
		is_served       TINYINT(1) NOT NULL DEFAULT 0,
		created_at      DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT fk_details_order FOREIGN KEY (order_id) REFERENCES orders (order_id) ON DELETE CASCADE,
		CONSTRAINT fk_details_menu FOREIGN KEY (menu_id) REFERENCES menus (menu_id),
		CONSTRAINT chk_details_quantity CHECK (quantity > 0),
		INDEX idx_details_order_served (order_id, is_served)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables and provisions table rows 1..tableCount.
func (m *MySQLAdapter) Migrate(ctx context.Context, tableCount int) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	for id := 1; id <= tableCount; id++ {
		if _, err := m.db.ExecContext(ctx, `INSERT IGNORE INTO store_tables (table_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("provision table %d: %w", id, err)
		}
	}
	return nil
}
